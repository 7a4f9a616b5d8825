package domain

// Action is an affordance attached to an outbound message: a callback button
// or a URL button.
type Action struct {
	Label string
	Data  string
	URL   string
}

type Message struct {
	Text string
	HTML bool
	// Photo is a platform file id sent with Text as its caption.
	Photo   string
	Actions [][]Action
}
