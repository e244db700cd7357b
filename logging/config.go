package logging

// Options configures the global logger; populated from
// config.ReplicationConfig by the process entry point rather than parsed
// independently here, so the logging package never registers its own
// command-line flags.
type Options struct {
	Level        string
	TraceModules []string
	LogDir       string
}

// Apply replaces the package-level default logger with one built from
// opts. Until the first successful Apply, the default logger writes to
// the console only at INFO.
func Apply(opts Options) error {
	l, err := New(opts)
	if err != nil {
		return err
	}

	defaultMu.Lock()
	previous := defaultLogger
	defaultLogger = l
	defaultMu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return nil
}
