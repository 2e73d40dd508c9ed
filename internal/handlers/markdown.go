package handlers

import (
	"bytes"
	"fmt"

	"github.com/MegaGrindStone/jarvis-web/internal/models"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

// message is the browser view of a models.Message. HTML holds the rendered markdown of Content.
type message struct {
	models.Message
	HTML string `json:"html"`
}

// state is the browser view of a models.SessionState. Action describes what the current agent is doing.
type state struct {
	models.SessionState
	Action string `json:"action"`
}

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("monokai"),
			),
		),
	)
}

// renderMessage converts msg into its browser view. Raw HTML in the content is not passed through.
func renderMessage(md goldmark.Markdown, msg models.Message) (message, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(msg.Content), &buf); err != nil {
		return message{}, fmt.Errorf("failed to render message %s: %w", msg.ID, err)
	}
	return message{Message: msg, HTML: buf.String()}, nil
}

func renderState(st models.SessionState) state {
	return state{SessionState: st, Action: st.Current.Info().Action}
}
