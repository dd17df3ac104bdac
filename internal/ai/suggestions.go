package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPhoto = errors.New("profile photo must be a base64 data URI")

type ProfileInput struct {
	PhotoDataURI string
	Description  string
	Audience     string
	Industry     string
}

type Suggestions struct {
	Photo       string `json:"photoSuggestions"`
	Description string `json:"descriptionSuggestions"`
	Overall     string `json:"overallSuggestions"`
}

// ProfileSuggestions returns photo, description and overall advice for a profile.
func (c *Client) ProfileSuggestions(ctx context.Context, in ProfileInput) (*Suggestions, error) {
	mime, data, err := splitDataURI(in.PhotoDataURI)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(`You are an AI expert in profile optimization for professional networking platforms.

Given the profile photo attached and the information below, provide actionable suggestions to improve the profile photo, description and overall profile to attract more connections and engagement.

Current Description: %s
Desired Audience: %s
Industry: %s

Answer with a JSON object with the string fields photoSuggestions, descriptionSuggestions and overallSuggestions.`,
		in.Description, in.Audience, in.Industry)

	parts := []part{
		{Text: prompt},
		{InlineData: &inlineData{MimeType: mime, Data: data}},
	}
	text, err := c.generate(ctx, "suggestions", parts, true)
	if err != nil {
		return nil, err
	}
	var out Suggestions
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	if out.Photo == "" && out.Description == "" && out.Overall == "" {
		return nil, ErrEmptyOutput
	}
	return &out, nil
}

// splitDataURI parses "data:<mime>;base64,<payload>".
func splitDataURI(uri string) (mime, data string, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", "", ErrInvalidPhoto
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok || payload == "" {
		return "", "", ErrInvalidPhoto
	}
	mime, ok = strings.CutSuffix(header, ";base64")
	if !ok || mime == "" {
		return "", "", ErrInvalidPhoto
	}
	return mime, payload, nil
}
