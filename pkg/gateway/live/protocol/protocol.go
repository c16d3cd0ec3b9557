package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError is returned by DecodeClientMessage for a frame that cannot
// be classified or validated. Callers translate it directly into an
// "error" reply frame.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unknownType(message, param string) *DecodeError {
	return &DecodeError{Code: "unknown_type", Message: message, Param: param}
}

// ClientAuth re-verifies the connection mid-session.
type ClientAuth struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// ClientUserInfo sets userId for anonymous connections; ignored once
// already authenticated.
type ClientUserInfo struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// ClientSetChatID binds the connection to a chat session.
type ClientSetChatID struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId"`
}

// ClientStartStream is advisory: Idle -> AwaitingAudio.
type ClientStartStream struct {
	Type string `json:"type"`
}

// ClientEndStream is advisory; the turn begins when a binary frame arrives.
type ClientEndStream struct {
	Type string `json:"type"`
}

// ClientTextMessage begins a text turn.
type ClientTextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ClientClearContext is a deprecated advisory no-op.
type ClientClearContext struct {
	Type string `json:"type"`
}

// ClientAudioFrame wraps a binary WAV payload classified by the frame
// demultiplexer (binary frames carry no JSON envelope of their own).
type ClientAudioFrame struct {
	Data []byte
}

// DecodeClientMessage classifies and validates one inbound text frame,
// returning one of the Client* types above, or a *DecodeError.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("Invalid JSON message format", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "auth":
		var msg ClientAuth
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid auth frame", "")
		}
		if strings.TrimSpace(msg.Token) == "" {
			return nil, badRequest("auth.token is required", "token")
		}
		return msg, nil
	case "user_info":
		var msg ClientUserInfo
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid user_info frame", "")
		}
		if strings.TrimSpace(msg.UserID) == "" {
			return nil, badRequest("user_info.userId is required", "userId")
		}
		return msg, nil
	case "set_chat_id":
		var msg ClientSetChatID
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid set_chat_id frame", "")
		}
		if strings.TrimSpace(msg.ChatID) == "" {
			return nil, badRequest("set_chat_id.chatId is required", "chatId")
		}
		return msg, nil
	case "start_stream":
		var msg ClientStartStream
		_ = json.Unmarshal(data, &msg)
		return msg, nil
	case "end_stream":
		var msg ClientEndStream
		_ = json.Unmarshal(data, &msg)
		return msg, nil
	case "text_message":
		var msg ClientTextMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text_message frame", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("text_message.text is required", "text")
		}
		return msg, nil
	case "clear_context":
		var msg ClientClearContext
		_ = json.Unmarshal(data, &msg)
		return msg, nil
	default:
		return nil, unknownType("Unknown control type", "type")
	}
}

// ServerConnectionEstablished is sent immediately after a successful
// upgrade.
type ServerConnectionEstablished struct {
	Type          string `json:"type"`
	Message       string `json:"message"`
	Authenticated bool   `json:"authenticated"`
}

// ServerAuthSuccess acknowledges a successful mid-connection re-auth.
type ServerAuthSuccess struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// ServerAuthError reports a failed mid-connection re-auth.
type ServerAuthError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// SpeechMetadata carries the Query Resolver's classification of a turn.
type SpeechMetadata struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// ServerSpeechResponse reports the outcome of a turn's recognise+resolve
// phases. On failure, only Success and Reason are populated.
type ServerSpeechResponse struct {
	Type          string          `json:"type"`
	Success       bool            `json:"success"`
	Transcription string          `json:"transcription,omitempty"`
	TextResponse  string          `json:"textResponse,omitempty"`
	Metadata      *SpeechMetadata `json:"metadata,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

// ServerAudioContent carries the synthesised reply audio, base64-encoded.
type ServerAudioContent struct {
	Type         string `json:"type"`
	AudioContent string `json:"audioContent"`
}

// ServerError is the generic error reply frame.
type ServerError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewConnectionEstablished builds the frame sent right after upgrade.
func NewConnectionEstablished(authenticated bool) ServerConnectionEstablished {
	return ServerConnectionEstablished{
		Type:          "connection_established",
		Message:       "connected",
		Authenticated: authenticated,
	}
}

// NewAuthSuccess builds an auth_success reply.
func NewAuthSuccess(userID string) ServerAuthSuccess {
	return ServerAuthSuccess{Type: "auth_success", UserID: userID}
}

// NewAuthError builds an auth_error reply.
func NewAuthError(message string) ServerAuthError {
	return ServerAuthError{Type: "auth_error", Error: message}
}

// NewErrorFrame builds a generic error reply.
func NewErrorFrame(message string) ServerError {
	return ServerError{Type: "error", Error: message}
}

// ServerWarning is an out-of-band advisory frame, used for graceful-drain
// notices sent ahead of the gateway closing a connection.
type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewWarning builds a warning frame.
func NewWarning(code, message string) ServerWarning {
	return ServerWarning{Type: "warning", Code: code, Message: message}
}
