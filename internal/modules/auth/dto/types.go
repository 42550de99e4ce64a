package dto

type RequestCodeInput struct {
	Email string
}

type RequestCodeOutput struct {
	Email string
}

type VerifyCodeInput struct {
	Email string
	Code  string
}
