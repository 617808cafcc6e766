package models

// User identifies a chat participant. Email is optional; the server omits it
// from most payloads.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Server is a selectable chat server endpoint.
type Server struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}
