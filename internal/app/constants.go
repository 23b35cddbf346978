package app

const (
	Name           = "avcomctl"
	SourceURL      = "https://git.skobk.in/skobkin/avcomgo"
	ConfigFilename = "config.json"
	LogFilename    = "avcomctl.log"
)
