package interfaces

// TokenSource yields the bearer token of the signed-in agent.
// FUNCTIONAL DISCOVERY: The token is read once per connection creation and
// never refreshed on a live connection
type TokenSource interface {
	AccessToken() (string, error)
}
