package handler

import (
	"errors"
	"regexp"

	"github.com/assetray/realtime/internal/ierr"
)

// ChannelValidator bounds the shape of channel names before they become
// index keys. Names are otherwise pass-through; the server assigns no
// meaning to them.
type ChannelValidator struct {
	channelRegex *regexp.Regexp
}

func NewChannelValidator() *ChannelValidator {
	return &ChannelValidator{
		channelRegex: regexp.MustCompile(`^[\w][\w:-]{0,127}$`),
	}
}

func (v *ChannelValidator) Validate(channel string) error {
	if !v.channelRegex.MatchString(channel) {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid channel name"))
	}

	return nil
}
