package messaging

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/TripPipe/internal/models"
)

// FormatResponse renders a conversation response as plain chat text: the reply, then the
// itinerary if any, then the options to choose from.
func FormatResponse(resp models.ChatResponse) string {
	var b strings.Builder
	b.WriteString(resp.Reply)

	if it := resp.Itinerary; it != nil && len(it.Stops) > 0 {
		b.WriteString("\n\n")
		if it.Summary != "" {
			fmt.Fprintf(&b, "Your route (via %s):", it.Summary)
		} else {
			b.WriteString("Your route:")
		}
		for i, stop := range it.Stops {
			fmt.Fprintf(&b, "\n%d. %s", i+1, stop.Name)
			if stop.Address != "" {
				fmt.Fprintf(&b, ", %s", stop.Address)
			}
			if i < len(it.Legs) && it.Legs[i].Distance != "" {
				fmt.Fprintf(&b, " (%s, %s)", it.Legs[i].Distance, it.Legs[i].Duration)
			}
		}
	}

	if len(resp.Options) > 0 {
		b.WriteString("\n\nReply with one of:")
		for _, opt := range resp.Options {
			fmt.Fprintf(&b, "\n- %s", opt)
		}
	}
	return b.String()
}
