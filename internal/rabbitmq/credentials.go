package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultPort = 5672

// Credentials identify a broker.
type Credentials struct {
	Scheme   string
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
}

// URL renders the credentials as an AMQP URI.
func (c Credentials) URL() string {
	uri := amqp.URI{
		Scheme:   c.Scheme,
		Host:     c.Host,
		Port:     c.Port,
		Username: c.User,
		Password: c.Password,
		Vhost:    c.VHost,
	}
	if uri.Scheme == "" {
		uri.Scheme = "amqp"
	}
	if uri.Port == 0 {
		uri.Port = defaultPort
	}
	if uri.Vhost == "" {
		uri.Vhost = "/"
	}
	return uri.String()
}

// CredentialsFromURL parses an AMQP URI.
func CredentialsFromURL(raw string) (Credentials, error) {
	uri, err := amqp.ParseURI(raw)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return Credentials{
		Scheme:   uri.Scheme,
		Host:     uri.Host,
		Port:     uri.Port,
		User:     uri.Username,
		Password: uri.Password,
		VHost:    uri.Vhost,
	}, nil
}
