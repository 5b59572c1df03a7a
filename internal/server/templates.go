package server

import (
	_ "embed"
	"html/template"
)

//go:embed templates/home.html
var homePageTemplateHTML string

//go:embed templates/login.html
var loginPageTemplateHTML string

//go:embed templates/private.html
var privatePageTemplateHTML string

//go:embed templates/error.html
var errorPageTemplateHTML string

var homePageTemplate = template.Must(template.New("home").Parse(homePageTemplateHTML))
var loginPageTemplate = template.Must(template.New("login").Parse(loginPageTemplateHTML))
var privatePageTemplate = template.Must(template.New("private").Parse(privatePageTemplateHTML))
var errorPageTemplate = template.Must(template.New("error").Parse(errorPageTemplateHTML))

// HomePageData represents the data for the landing page
type HomePageData struct {
	Authenticated bool
	Email         string
	LoginPath     string
	PrivatePath   string
	LogoutAction  string
}

// LoginPageData represents the data for the login/signup page
type LoginPageData struct {
	Message        string
	MessageType    string // "success" or "error"
	Providers      []string
	LoginAction    string
	SignupAction   string
	ProviderAction string
}

// PrivatePageData represents the data for the protected page
type PrivatePageData struct {
	Email        string
	LogoutAction string
}

// ErrorPageData represents the data for the auth error page
type ErrorPageData struct {
	Message   string
	LoginPath string
}
