// Package proto implements the newline-terminated text protocol spoken
// between clients and the server: request parsing, reply construction, and
// the channel-listing codec.
package proto

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Command verbs accepted from clients.
const (
	VerbVisitor       = "VISITOR"
	VerbLogin         = "LOGIN"
	VerbRegister      = "REGISTER"
	VerbGetUsername   = "GET_USERNAME"
	VerbGetStatus     = "GET_STATUS"
	VerbSetStatus     = "SET_STATUS"
	VerbCreateChannel = "CREATE_CHANNEL"
	VerbJoinChannel   = "JOIN_CHANNEL"
	VerbLeaveChannel  = "LEAVE_CHANNEL"
	VerbGetChannels   = "GET_CHANNELS"
	VerbSendMessage   = "SEND_MESSAGE"
	VerbGetMessages   = "GET_MESSAGES"
	VerbStartStream   = "START_STREAM"
	VerbStopStream    = "STOP_STREAM"
	VerbGetPeers      = "GET_PEERS"
)

// Reply tokens sent to clients, both as direct responses and as unsolicited
// notices.
const (
	ReplyWelcomeVisitor  = "WELCOME_VISITOR"
	ReplyLoginSuccess    = "LOGIN_SUCCESS"
	ReplyLoginFailed     = "LOGIN_FAILED"
	ReplyRegisterSuccess = "REGISTER_SUCCESS"
	ReplyUsernameTaken   = "USERNAME_TAKEN"
	ReplyUsername        = "USERNAME"
	ReplyUsernameMissing = "USERNAME_NOT_FOUND"
	ReplyStatus          = "STATUS"
	ReplyStatusUpdated   = "STATUS_UPDATED"
	ReplyInvalidStatus   = "INVALID_STATUS"
	ReplyUserNotFound    = "USER_NOT_FOUND"
	ReplyChannelCreated  = "CHANNEL_CREATED"
	ReplyJoinSuccess     = "JOIN_SUCCESS"
	ReplyAlreadyMember   = "ALREADY_MEMBER"
	ReplyChannelNotFound = "CHANNEL_NOT_FOUND"
	ReplyLeaveSuccess    = "LEAVE_SUCCESS"
	ReplyNotAMember      = "NOT_A_MEMBER"
	ReplyHostCannotLeave = "HOST_CANNOT_LEAVE"
	ReplyChannel         = "CHANNEL"
	ReplyNoChannels      = "NO_CHANNELS"
	ReplyUpdateChannels  = "UPDATE_CHANNELS"
	ReplyMessageSent     = "MESSAGE_SENT"
	ReplyMessage         = "MESSAGE"
	ReplyNoMessages      = "NO_MESSAGES"
	ReplyVisitorBlocked  = "VISITOR_NOT_ALLOWED"
	ReplyStreamStarted   = "STREAM_STARTED"
	ReplyStreamStopped   = "STREAM_STOPPED"
	ReplyStreamActive    = "STREAM_ACTIVE"
	ReplyNoStream        = "NO_STREAM"
	ReplyLivestreamStart = "LIVESTREAM_START"
	ReplyLivestreamStop  = "LIVESTREAM_STOP"
	ReplyPeerList        = "PEER_LIST"
	ReplyInvalidCommand  = "INVALID_COMMAND"
	ReplyNotAuthed       = "NOT_AUTHENTICATED"
	ReplyRateLimited     = "RATE_LIMITED"
)

// Parse errors. Both map to an INVALID_COMMAND reply; the connection stays
// open.
var (
	ErrUnknownVerb = errors.New("unknown verb")
	ErrBadArity    = errors.New("wrong number of arguments")
)

// verbSpec describes the shape of a verb's argument list. fixed is the number
// of whitespace-split arguments; when trailing is set, one more argument
// follows that consumes the remainder of the line verbatim.
type verbSpec struct {
	fixed    int
	trailing bool
}

var verbSpecs = map[string]verbSpec{
	VerbVisitor:       {fixed: 0, trailing: true},
	VerbLogin:         {fixed: 2},
	VerbRegister:      {fixed: 2},
	VerbGetUsername:   {fixed: 1},
	VerbGetStatus:     {fixed: 1},
	VerbSetStatus:     {fixed: 2},
	VerbCreateChannel: {fixed: 1, trailing: true},
	VerbJoinChannel:   {fixed: 2},
	VerbLeaveChannel:  {fixed: 2},
	VerbGetChannels:   {fixed: 0},
	VerbSendMessage:   {fixed: 2, trailing: true},
	VerbGetMessages:   {fixed: 1},
	VerbStartStream:   {fixed: 4},
	VerbStopStream:    {fixed: 2},
	VerbGetPeers:      {fixed: 0},
}

// Request is a decoded client command line.
type Request struct {
	Verb string
	Args []string
}

// Arg returns the i-th argument, or "" when absent.
func (r Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

// ParseRequest decodes one command line. Verbs are case-sensitive. The
// trailing argument of VISITOR, CREATE_CHANNEL and SEND_MESSAGE takes the
// remainder of the line; every other argument is a single whitespace-split
// token.
func ParseRequest(line string) (Request, error) {
	line = strings.TrimRight(line, "\r\n")
	verb, rest, _ := strings.Cut(strings.TrimLeft(line, " "), " ")

	spec, ok := verbSpecs[verb]
	if !ok {
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
	}

	args := make([]string, 0, spec.fixed+1)
	for i := 0; i < spec.fixed; i++ {
		rest = strings.TrimLeft(rest, " ")
		tok, remainder, _ := strings.Cut(rest, " ")
		if tok == "" {
			return Request{}, fmt.Errorf("%w: %s wants %d args", ErrBadArity, verb, spec.fixed)
		}
		args = append(args, tok)
		rest = remainder
	}

	rest = strings.TrimLeft(rest, " ")
	if spec.trailing {
		if rest == "" {
			return Request{}, fmt.Errorf("%w: %s wants a trailing field", ErrBadArity, verb)
		}
		args = append(args, rest)
	} else if rest != "" {
		return Request{}, fmt.Errorf("%w: %s wants %d args", ErrBadArity, verb, spec.fixed)
	}

	return Request{Verb: verb, Args: args}, nil
}

// Line joins reply tokens into a single wire line (no terminator).
func Line(tokens ...string) string {
	return strings.Join(tokens, " ")
}

// TimeFormat is the wire format for message timestamps. RFC3339 keeps the
// timestamp a single token.
const TimeFormat = time.RFC3339

// MessageLine builds a MESSAGE notice: MESSAGE <cid> <uid> <ts> | <text>.
func MessageLine(channelID, authorID string, ts time.Time, text string) string {
	return fmt.Sprintf("%s %s %s %s | %s",
		ReplyMessage, channelID, authorID, ts.UTC().Format(TimeFormat), text)
}

// LivestreamStartLine builds a LIVESTREAM_START notice.
func LivestreamStartLine(streamerID, channelID, ip string, port int) string {
	return fmt.Sprintf("%s %s %s %s %d", ReplyLivestreamStart, streamerID, channelID, ip, port)
}

// LivestreamStopLine builds a LIVESTREAM_STOP notice.
func LivestreamStopLine(streamerID, channelID string) string {
	return fmt.Sprintf("%s %s %s", ReplyLivestreamStop, streamerID, channelID)
}

// StatusLine builds a STATUS notice.
func StatusLine(userID, status string) string {
	return fmt.Sprintf("%s %s %s", ReplyStatus, userID, status)
}

// UpdateChannelsLine builds an UPDATE_CHANNELS roster notice.
func UpdateChannelsLine(channelID, name, hostID string) string {
	return fmt.Sprintf("%s %s %s %s", ReplyUpdateChannels, channelID, name, hostID)
}

// ChannelSummary is one entry of a GET_CHANNELS response, with the member set
// partitioned into visitors and registered users.
type ChannelSummary struct {
	ID       string
	Host     string
	Name     string
	Visitors []string
	Regulars []string
}

// EncodeChannelSummary renders one CHANNEL line. The channel name is encoded
// as a token count followed by its tokens, so names containing spaces or
// purely numeric names decode unambiguously:
//
//	CHANNEL <id> <host> <n> <name tok 1..n> <v> <visitor 1..v> <r> <regular 1..r>
func EncodeChannelSummary(cs ChannelSummary) string {
	nameTokens := strings.Fields(cs.Name)

	parts := make([]string, 0, 6+len(nameTokens)+len(cs.Visitors)+len(cs.Regulars))
	parts = append(parts, ReplyChannel, cs.ID, cs.Host, strconv.Itoa(len(nameTokens)))
	parts = append(parts, nameTokens...)
	parts = append(parts, strconv.Itoa(len(cs.Visitors)))
	parts = append(parts, cs.Visitors...)
	parts = append(parts, strconv.Itoa(len(cs.Regulars)))
	parts = append(parts, cs.Regulars...)
	return strings.Join(parts, " ")
}

// DecodeChannelSummary parses one CHANNEL line produced by
// EncodeChannelSummary.
func DecodeChannelSummary(line string) (ChannelSummary, error) {
	tokens := strings.Fields(line)
	if len(tokens) < 4 || tokens[0] != ReplyChannel {
		return ChannelSummary{}, fmt.Errorf("malformed channel line: %q", line)
	}

	cs := ChannelSummary{ID: tokens[1], Host: tokens[2]}
	rest := tokens[3:]

	nameTokens, rest, err := takeCounted(rest, "name")
	if err != nil {
		return ChannelSummary{}, err
	}
	cs.Name = strings.Join(nameTokens, " ")

	cs.Visitors, rest, err = takeCounted(rest, "visitors")
	if err != nil {
		return ChannelSummary{}, err
	}

	cs.Regulars, rest, err = takeCounted(rest, "regulars")
	if err != nil {
		return ChannelSummary{}, err
	}
	if len(rest) != 0 {
		return ChannelSummary{}, fmt.Errorf("trailing tokens in channel line: %v", rest)
	}
	return cs, nil
}

// takeCounted consumes a count token followed by that many tokens.
func takeCounted(tokens []string, field string) ([]string, []string, error) {
	if len(tokens) == 0 {
		return nil, nil, fmt.Errorf("missing %s count", field)
	}
	n, err := strconv.Atoi(tokens[0])
	if err != nil || n < 0 {
		return nil, nil, fmt.Errorf("bad %s count %q", field, tokens[0])
	}
	tokens = tokens[1:]
	if len(tokens) < n {
		return nil, nil, fmt.Errorf("%s list truncated: want %d tokens, have %d", field, n, len(tokens))
	}
	if n == 0 {
		return nil, tokens, nil
	}
	return tokens[:n], tokens[n:], nil
}
