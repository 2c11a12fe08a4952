package domain

import "strings"

// Topic identifies the kind of inbound webhook.
type Topic string

const (
	TopicAppUninstalled        Topic = "app/uninstalled"
	TopicCustomersDataRequest  Topic = "customers/data_request"
	TopicCustomersRedact       Topic = "customers/redact"
	TopicShopRedact            Topic = "shop/redact"
	TopicAppSubscriptionUpdate Topic = "app_subscriptions/update"
)

var knownTopics = map[Topic]bool{
	TopicAppUninstalled:        true,
	TopicCustomersDataRequest:  true,
	TopicCustomersRedact:       true,
	TopicShopRedact:            true,
	TopicAppSubscriptionUpdate: true,
}

// ParseTopic normalizes a raw header value. Unknown topics are returned as-is
// with ok=false so callers can still record them.
func ParseTopic(raw string) (Topic, bool) {
	topic := Topic(strings.ToLower(strings.TrimSpace(raw)))
	return topic, knownTopics[topic]
}

func (t Topic) String() string {
	return string(t)
}
