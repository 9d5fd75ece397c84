package models

// Organization is an externally owned record resolved during validation.
type Organization struct {
	ID            string `json:"id"`
	ExternalAlias string `json:"externalAlias,omitempty"`
	Name          string `json:"name"`
}

// User is the initiating identity behind a request.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Client is a managed client account owned by an organization.
type Client struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	ContentCount int     `json:"contentCount"`
	ContactEmail *string `json:"contactEmail,omitempty"`
}
