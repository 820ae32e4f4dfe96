package smtp

import (
	"fmt"
	"strings"
)

// mechanism is a client-side SASL mechanism for SMTP AUTH (RFC 4954).
type mechanism interface {
	// name returns the mechanism name as sent in the AUTH command.
	name() string
	// start returns the initial response, or nil if the mechanism waits
	// for a server challenge.
	start() []byte
	// next answers a decoded server challenge.
	next(challenge []byte) ([]byte, error)
}

// plainMech implements SASL PLAIN (RFC 4616). The whole credential is
// carried in the initial response: NUL user NUL password.
type plainMech struct {
	username string
	password string
}

func (m *plainMech) name() string { return "PLAIN" }

func (m *plainMech) start() []byte {
	return []byte("\x00" + m.username + "\x00" + m.password)
}

func (m *plainMech) next(challenge []byte) ([]byte, error) {
	return nil, fmt.Errorf("unexpected PLAIN challenge %q", challenge)
}

// loginMech implements the LOGIN mechanism still required by some
// submission servers: username and password each answer one challenge.
type loginMech struct {
	username string
	password string
	step     int
}

func (m *loginMech) name() string { return "LOGIN" }

func (m *loginMech) start() []byte { return nil }

func (m *loginMech) next(challenge []byte) ([]byte, error) {
	defer func() { m.step++ }()
	switch m.step {
	case 0:
		return []byte(m.username), nil
	case 1:
		return []byte(m.password), nil
	}
	return nil, fmt.Errorf("unexpected LOGIN challenge %q", challenge)
}

// pickMechanism chooses from the mechanisms the server advertised in its
// EHLO response. PLAIN is preferred over LOGIN; anything else is
// unsupported. Returns nil when no usable mechanism was offered.
func pickMechanism(offered []string, username, password string) mechanism {
	haveLogin := false
	for _, name := range offered {
		switch strings.ToUpper(name) {
		case "PLAIN":
			return &plainMech{username: username, password: password}
		case "LOGIN":
			haveLogin = true
		}
	}
	if haveLogin {
		return &loginMech{username: username, password: password}
	}
	return nil
}
