package account

// Outcome is the result of one authorization attempt.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeFailedInvalidToken
	OutcomeFailedInvalidKey
	OutcomeFailedNoAccount
	OutcomeFailedBadData
	OutcomeFailedTimeout
	OutcomeFinished
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFinished:
		return "finished"
	case OutcomeFailedInvalidToken:
		return "failed_invalid_token"
	case OutcomeFailedInvalidKey:
		return "failed_invalid_key"
	case OutcomeFailedNoAccount:
		return "failed_no_account"
	case OutcomeFailedBadData:
		return "failed_bad_data"
	case OutcomeFailedTimeout:
		return "failed_timeout"
	default:
		return "failed"
	}
}

// Error descriptions returned by the API in the "text" field.
const (
	textInvalidToken = "Invalid access token"
	textInvalidKey   = "invalid key"
	textNoAccount    = "no game account"
	textBadData      = "ErrBadData"
	textTimeout      = "ErrTimeout"
	textAllIDsBad    = "all ids provided are invalid"
)

var outcomeByText = map[string]Outcome{
	textInvalidToken: OutcomeFailedInvalidToken,
	textInvalidKey:   OutcomeFailedInvalidKey,
	textNoAccount:    OutcomeFailedNoAccount,
	textBadData:      OutcomeFailedBadData,
	textTimeout:      OutcomeFailedTimeout,
}

// outcomeFromText maps an API error description to an Outcome. Unknown or
// empty descriptions are a generic failure.
func outcomeFromText(text string) (Outcome, bool) {
	o, ok := outcomeByText[text]
	if !ok {
		return OutcomeFailed, false
	}
	return o, true
}
