// Package users holds a consumer whose short name clashes with its sibling
// under collide/a.
package users

import "github.com/teamsquad/eventbus-go/contracts"

type Joined struct {
	Name string
}

func (*Joined) EventName() string { return "b.joined" }

func (j *Joined) ToArray() contracts.Fields { return contracts.Fields{}.With("name", j.Name) }

func (j *Joined) FromArray(f contracts.Fields) error {
	j.Name = f.StringOr("name", "")
	return nil
}

type Consumer struct {
	contracts.BaseConsumer
}

func (*Consumer) ListenJoined(*Joined) {}
