package workflow

type State string

const (
	StateStart                State = "start"
	StateLoggingIn            State = "logging_in"
	StateSolvingCaptcha       State = "solving_captcha"
	StateVerifyingLogin       State = "verifying_login"
	StateNavigatingToDocument State = "navigating_to_document"
	StateCheckingStatus       State = "checking_status"
	StateExtracting           State = "extracting"
	StatePrinting             State = "printing"
	StateDone                 State = "done"
	StateFailed               State = "failed"
)
