// Package branding holds the user-facing product identity.
package branding

// AppName is the product name shown to clients and logs.
const AppName = "Crossfire"
