package model

// Response is the envelope every API endpoint returns: {"success": true,
// "data": ...} on success, {"success": false, "error": "..."} on failure.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// QuotaStatus reports an identity's daily quota position. Returned with 429
// responses so callers know how far over the ceiling they are.
type QuotaStatus struct {
	Used  int    `json:"used"`
	Limit int    `json:"limit"`
	Date  string `json:"date"` // UTC calendar day the counter applies to
}
