package main

// Options is the root command. Struct tags are read by go-flags.
type Options struct {
	Config  string    `short:"f" long:"config" description:"config YAML path (default: conf.yaml under the root dir)"`
	Version bool      `short:"v" long:"version" description:"print version and exit"`
	Serve   *ServeCmd `command:"serve" description:"Run the presence engine (default)"`
	Moods   *MoodsCmd `command:"moods" description:"Print the resolved mood catalog as YAML"`
}

// Init instantiates the sub-command named by the first argument so that
// the parser can populate it.
func (o *Options) Init(firstArg string) {
	switch firstArg {
	case "serve":
		o.Serve = &ServeCmd{}
	case "moods":
		o.Moods = &MoodsCmd{}
	}
}
