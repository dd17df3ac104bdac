package realtime

// Live query topics. A signal on a topic means "the result set behind it changed".
const TopicFeed = "feed"

func PostTopic(postID string) string { return "post:" + postID }

func ConversationsTopic(userID string) string { return "conversations:" + userID }

func MessagesTopic(conversationID string) string { return "messages:" + conversationID }

func NotificationsTopic(userID string) string { return "notifications:" + userID }
