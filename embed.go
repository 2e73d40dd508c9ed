package jarvisweb

import "embed"

// StaticFS contains the embedded page and assets of the web interface. The page talks to the chat,
// SSE and memory endpoints; it holds no state of its own.
//
//go:embed static/*
var StaticFS embed.FS
