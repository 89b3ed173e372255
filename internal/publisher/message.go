// Package publisher encodes story reports for delivery. Implementations live
// in the memory and pubsub subpackages.
package publisher

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/JakeFAU/hnarchiver/internal/crawler"
)

// Message is the wire form of one notification.
type Message struct {
	Data       []byte
	Attributes map[string]string
}

// Encode marshals payload to JSON. Story reports also carry their ids as
// attributes so subscribers can filter without decoding.
func Encode(payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{Data: data, Attributes: map[string]string{}}
	if report, ok := payload.(crawler.StoryReport); ok {
		msg.Attributes["story_id"] = strconv.FormatInt(report.StoryID, 10)
		msg.Attributes["iteration"] = strconv.Itoa(report.Iteration)
		if report.CycleID != "" {
			msg.Attributes["cycle_id"] = report.CycleID
		}
	}
	return msg, nil
}
