package schema

// CredentialHeader carries the caller's poll-generation API key on
// server-mediated generation requests.
const CredentialHeader = "X-Poll-Api-Key"

type GeneratePollRequest struct {
	Excerpt string `json:"excerpt"`
}

type GeneratePollResponse struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// ErrorResponse is the JSON body of every non-2xx server reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
