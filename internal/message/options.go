package message

import "fmt"

// Options carries the broker configuration supplied on the command line.
type Options struct {
	Broker Broker

	AmqpURI   string
	AmqpQueue string
}

// ValidateOpts asserts that the selected broker is supported and fully
// configured.
func ValidateOpts(opts *Options) error {
	name := opts.Broker

	ok := false
	for _, broker := range SupportedBrokers {
		if name == broker {
			ok = true
		}
	}
	if !ok {
		return fmt.Errorf("broker %q is invalid (supported brokers: %v)", name, SupportedBrokers)
	}

	switch opts.Broker {
	case AmqpBroker:
		if opts.AmqpURI == "" || opts.AmqpQueue == "" {
			return fmt.Errorf("amqp broker requires a uri and queue name")
		}
	}

	return nil
}
