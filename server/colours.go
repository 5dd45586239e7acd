package server

// ANSI colors for DEV route logging
const (
	Green      = "\033[32m"
	Blue       = "\033[34m"
	Yellow     = "\033[33m"
	Gray       = "\033[90m"
	ResetColor = "\033[0m"
)

var methodColors = map[string]string{
	"GET":    Green,
	"POST":   Blue,
	"DELETE": Yellow,
}
