package session

// Selector lists are tried in order; the first one that matches wins.
var (
	usernameSelectors = []string{
		`input[name="account"]`,
		`input[id="fm-login-id"]`,
		`input[type="email"]`,
		`input[name="loginId"]`,
		`input[type="text"]`,
	}
	passwordSelectors = []string{
		`input[type="password"]`,
	}
	submitSelectors = []string{
		`button[type="submit"]`,
		`.submit-btn`,
		`button[name="submit"]`,
		`input[type="submit"]`,
	}
	codeInputSelectors = []string{
		`input[autocomplete="one-time-code"]`,
		`input[name*="code"]`,
		`input[type="tel"]`,
		`input[type="text"]`,
	}
	verifySelectors = []string{
		`button[type="submit"]`,
		`button[class*="verify"]`,
		`button[class*="confirm"]`,
	}
)

// challengeInputSelectors only match a dedicated verification code field, so
// a plain login form never reads as a challenge.
var challengeInputSelectors = []string{
	`input[autocomplete="one-time-code"]`,
	`input[name*="code"]`,
	`input[id*="code"]`,
	`input[name*="verify"]`,
}

var rejectionKeywords = []string{
	"incorrect", "wrong password", "invalid password", "password is wrong",
	"密码错误", "账号或密码错误",
}
