package apis

type HealthResponse struct {
	Status  string   `json:"status"`
	Failing []string `json:"failing,omitempty"`
}

type SubmissionResult struct {
	Height          uint32 `json:"height"`
	Hash            string `json:"hash"`
	SubmittalHeight string `json:"submittalHeight"`
	Completed       bool   `json:"completed"`
}

type SubmissionResponse struct {
	Error  *string           `json:"error"`
	Result *SubmissionResult `json:"result"`
}
