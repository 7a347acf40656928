// Package directory answers who may send mail as which group.
package directory

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownGroup is returned for group accounts the directory does not know.
	ErrUnknownGroup = errors.New("unknown group")

	// ErrNotPrivileged is returned when a user lacks the send-as-group privilege.
	ErrNotPrivileged = errors.New("user may not send mail as a group")

	// ErrNotSender is returned when a group is not enabled as a sender.
	ErrNotSender = errors.New("group is not enabled as a sender")

	// ErrNotMember is returned when a user is not a member of the group.
	ErrNotMember = errors.New("user is not a member of the group")
)

// Group is a group account.
type Group struct {
	Account string
	Name    string
	Sender  bool
}

// Directory looks up privileges, groups and memberships.
type Directory interface {
	// HasPrivilege reports whether user holds the send-as-group privilege.
	HasPrivilege(ctx context.Context, user string) (bool, error)

	// Group returns the group with the given account name.
	Group(ctx context.Context, account string) (Group, error)

	// IsMember reports whether user belongs to the group.
	IsMember(ctx context.Context, account, user string) (bool, error)

	// SenderGroups returns the sender-enabled groups user belongs to.
	SenderGroups(ctx context.Context, user string) ([]Group, error)
}

// Authorize checks that user may send mail as the group account and
// returns the group.
func Authorize(ctx context.Context, d Directory, user, account string) (Group, error) {
	ok, err := d.HasPrivilege(ctx, user)
	if err != nil {
		return Group{}, fmt.Errorf("checking privilege of %s: %w", user, err)
	}
	if !ok {
		return Group{}, fmt.Errorf("%w: %s", ErrNotPrivileged, user)
	}

	g, err := d.Group(ctx, account)
	if err != nil {
		return Group{}, err
	}
	if !g.Sender {
		return Group{}, fmt.Errorf("%w: %s", ErrNotSender, account)
	}

	ok, err = d.IsMember(ctx, account, user)
	if err != nil {
		return Group{}, fmt.Errorf("checking membership of %s in %s: %w", user, account, err)
	}
	if !ok {
		return Group{}, fmt.Errorf("%w: %s in %s", ErrNotMember, user, account)
	}
	return g, nil
}
