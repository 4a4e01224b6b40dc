package challenge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "labelled verification code", text: "Your verification code: 482913. It expires in 10 minutes.", want: "482913"},
		{name: "labelled security code wins over other digits", text: "Order 2024 needs attention. Security code 7731", want: "7731"},
		{name: "generic code label", text: "Use code 90210455 to continue", want: "90210455"},
		{name: "bare six digits", text: "验证码 654321 请勿泄露", want: "654321"},
		{name: "bare four digits", text: "Enter 4821 on the sign-in page", want: "4821"},
		{name: "nothing", text: "Welcome to the marketplace!", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.text))
		})
	}
}

func TestLooksLikeCodeMail(t *testing.T) {
	assert.True(t, looksLikeCodeMail("alibaba", "Alibaba.com service@alibaba.com", "Hello"))
	assert.True(t, looksLikeCodeMail("alibaba", "noreply@example.com", "Hello"))
	assert.True(t, looksLikeCodeMail("", "someone@example.com", "Your Verification Code"))
	assert.False(t, looksLikeCodeMail("alibaba", "friend@example.com", "Lunch tomorrow?"))
}

func TestHTMLToText(t *testing.T) {
	got := htmlToText(`<p>Your verification code:</p><p><b>123456</b></p>`)
	assert.Equal(t, "123456", ExtractCode(got))
}
