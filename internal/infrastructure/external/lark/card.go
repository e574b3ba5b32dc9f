package lark

import (
	"fmt"

	"github.com/garyjia/hr-orchestrator/internal/application/port"
)

// cardTemplates maps a message kind onto the card header color
var cardTemplates = map[port.MessageKind]string{
	port.MessageApprovalRequest: "blue",
	port.MessageEscalation:      "orange",
	port.MessageTaskAssigned:    "turquoise",
	port.MessageGeneric:         "grey",
}

// buildCard builds a Lark interactive card for a rich message
func buildCard(msg port.RichMessage, link string) map[string]interface{} {
	template, ok := cardTemplates[msg.Kind]
	if !ok {
		template = cardTemplates[port.MessageGeneric]
	}

	elements := []interface{}{}
	if len(msg.Fields) > 0 {
		fields := make([]map[string]interface{}, 0, len(msg.Fields))
		for _, f := range msg.Fields {
			fields = append(fields, map[string]interface{}{
				"is_short": len(f.Value) <= 40,
				"text": map[string]interface{}{
					"tag":     "lark_md",
					"content": fmt.Sprintf("**%s**\n%s", f.Label, f.Value),
				},
			})
		}
		elements = append(elements, map[string]interface{}{
			"tag":    "div",
			"fields": fields,
		})
	}

	if link != "" {
		elements = append(elements,
			map[string]interface{}{"tag": "hr"},
			map[string]interface{}{
				"tag": "action",
				"actions": []interface{}{
					map[string]interface{}{
						"tag":  "button",
						"type": "primary",
						"url":  link,
						"text": map[string]interface{}{
							"tag":     "plain_text",
							"content": buttonLabel(msg.Kind),
						},
					},
				},
			})
	}

	return map[string]interface{}{
		"config": map[string]interface{}{
			"wide_screen_mode": true,
		},
		"header": map[string]interface{}{
			"template": template,
			"title": map[string]interface{}{
				"tag":     "plain_text",
				"content": msg.Title,
			},
		},
		"elements": elements,
	}
}

func buttonLabel(kind port.MessageKind) string {
	switch kind {
	case port.MessageApprovalRequest, port.MessageEscalation:
		return "Review"
	case port.MessageTaskAssigned:
		return "Open task"
	}
	return "Open"
}
