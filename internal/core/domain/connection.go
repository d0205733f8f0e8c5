package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ConnectionKind string

const (
	ConnectionVPN ConnectionKind = "VPN"
	ConnectionRDP ConnectionKind = "RDP"
	ConnectionFTP ConnectionKind = "FTP"
	ConnectionSSH ConnectionKind = "SSH"
)

func ParseConnectionKind(s string) (ConnectionKind, error) {
	switch k := ConnectionKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case ConnectionVPN, ConnectionRDP, ConnectionFTP, ConnectionSSH:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownConnectionType, s)
	}
}

type ConnectionState string

const (
	StateConnected    ConnectionState = "Connected"
	StateConnecting   ConnectionState = "Connecting"
	StateDisconnected ConnectionState = "Disconnected"
	StateError        ConnectionState = "Error"
)

// ConnectionStatus carries a message only in the Error state.
type ConnectionStatus struct {
	State   ConnectionState
	Message string
}

var (
	Connected    = ConnectionStatus{State: StateConnected}
	Connecting   = ConnectionStatus{State: StateConnecting}
	Disconnected = ConnectionStatus{State: StateDisconnected}
)

func ConnectionFailed(msg string) ConnectionStatus {
	return ConnectionStatus{State: StateError, Message: msg}
}

// MarshalJSON encodes unit states as a bare string and errors as
// {"Error": "message"}.
func (s ConnectionStatus) MarshalJSON() ([]byte, error) {
	if s.State == StateError {
		return json.Marshal(map[string]string{string(StateError): s.Message})
	}
	return json.Marshal(string(s.State))
}

func (s *ConnectionStatus) UnmarshalJSON(data []byte) error {
	var state string
	if err := json.Unmarshal(data, &state); err == nil {
		switch ConnectionState(state) {
		case StateConnected, StateConnecting, StateDisconnected:
			*s = ConnectionStatus{State: ConnectionState(state)}
			return nil
		}
		return fmt.Errorf("unknown connection status %q", state)
	}
	var failed map[string]string
	if err := json.Unmarshal(data, &failed); err != nil {
		return fmt.Errorf("malformed connection status: %w", err)
	}
	msg, ok := failed[string(StateError)]
	if !ok || len(failed) != 1 {
		return fmt.Errorf("malformed connection status %s", data)
	}
	*s = ConnectionFailed(msg)
	return nil
}

// RemoteConnection is one catalog entry. The variants are closed to this
// package.
type RemoteConnection interface {
	Kind() ConnectionKind
	ID() string
	Name() string
	Status() ConnectionStatus
	WithStatus(ConnectionStatus) RemoteConnection
	isRemoteConnection()
}

type VPNConnection struct {
	ConfigID string
	Provider string
	State    ConnectionStatus
}

type RDPConnection struct {
	ConfigID string
	Host     string
	Port     uint16
	State    ConnectionStatus
}

type FTPConnection struct {
	SiteID   string
	Host     string
	Protocol string
	State    ConnectionStatus
}

type SSHConnection struct {
	SessionID string
	Host      string
	Port      uint16
	State     ConnectionStatus
}

func (VPNConnection) Kind() ConnectionKind { return ConnectionVPN }
func (RDPConnection) Kind() ConnectionKind { return ConnectionRDP }
func (FTPConnection) Kind() ConnectionKind { return ConnectionFTP }
func (SSHConnection) Kind() ConnectionKind { return ConnectionSSH }

func (c VPNConnection) ID() string { return c.ConfigID }
func (c RDPConnection) ID() string { return c.ConfigID }
func (c FTPConnection) ID() string { return c.SiteID }
func (c SSHConnection) ID() string { return c.SessionID }

func (c VPNConnection) Name() string { return "VPN: " + c.ConfigID }
func (c RDPConnection) Name() string { return "RDP: " + c.Host }
func (c FTPConnection) Name() string { return "FTP: " + c.SiteID }
func (c SSHConnection) Name() string { return "SSH: " + c.SessionID }

func (c VPNConnection) Status() ConnectionStatus { return c.State }
func (c RDPConnection) Status() ConnectionStatus { return c.State }
func (c FTPConnection) Status() ConnectionStatus { return c.State }
func (c SSHConnection) Status() ConnectionStatus { return c.State }

func (c VPNConnection) WithStatus(s ConnectionStatus) RemoteConnection { c.State = s; return c }
func (c RDPConnection) WithStatus(s ConnectionStatus) RemoteConnection { c.State = s; return c }
func (c FTPConnection) WithStatus(s ConnectionStatus) RemoteConnection { c.State = s; return c }
func (c SSHConnection) WithStatus(s ConnectionStatus) RemoteConnection { c.State = s; return c }

func (VPNConnection) isRemoteConnection() {}
func (RDPConnection) isRemoteConnection() {}
func (FTPConnection) isRemoteConnection() {}
func (SSHConnection) isRemoteConnection() {}

// NewRemoteConnection builds a Disconnected entry of the given type.
func NewRemoteConnection(kind ConnectionKind, host string, port uint16) (RemoteConnection, error) {
	switch kind {
	case ConnectionVPN:
		return VPNConnection{ConfigID: "vpn_" + host, Provider: host, State: Disconnected}, nil
	case ConnectionRDP:
		return RDPConnection{ConfigID: fmt.Sprintf("rdp_%s_%d", host, port), Host: host, Port: port, State: Disconnected}, nil
	case ConnectionFTP:
		return FTPConnection{SiteID: "ftp_" + host, Host: host, Protocol: "FTP", State: Disconnected}, nil
	case ConnectionSSH:
		return SSHConnection{SessionID: fmt.Sprintf("ssh_%s_%d", host, port), Host: host, Port: port, State: Disconnected}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnectionType, kind)
	}
}

// ConnectionRecord is the tagged wire and storage form of a RemoteConnection.
type ConnectionRecord struct {
	Type      ConnectionKind   `json:"type"`
	ConfigID  string           `json:"config_id,omitempty"`
	SiteID    string           `json:"site_id,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Provider  string           `json:"provider,omitempty"`
	Host      string           `json:"host,omitempty"`
	Port      uint16           `json:"port,omitempty"`
	Protocol  string           `json:"protocol,omitempty"`
	Status    ConnectionStatus `json:"status"`
	Name      string           `json:"name"`
}

func RecordOf(c RemoteConnection) ConnectionRecord {
	rec := ConnectionRecord{Type: c.Kind(), Status: c.Status(), Name: c.Name()}
	switch v := c.(type) {
	case VPNConnection:
		rec.ConfigID, rec.Provider = v.ConfigID, v.Provider
	case RDPConnection:
		rec.ConfigID, rec.Host, rec.Port = v.ConfigID, v.Host, v.Port
	case FTPConnection:
		rec.SiteID, rec.Host, rec.Protocol = v.SiteID, v.Host, v.Protocol
	case SSHConnection:
		rec.SessionID, rec.Host, rec.Port = v.SessionID, v.Host, v.Port
	}
	return rec
}

func (r ConnectionRecord) Connection() (RemoteConnection, error) {
	switch r.Type {
	case ConnectionVPN:
		return VPNConnection{ConfigID: r.ConfigID, Provider: r.Provider, State: r.Status}, nil
	case ConnectionRDP:
		return RDPConnection{ConfigID: r.ConfigID, Host: r.Host, Port: r.Port, State: r.Status}, nil
	case ConnectionFTP:
		return FTPConnection{SiteID: r.SiteID, Host: r.Host, Protocol: r.Protocol, State: r.Status}, nil
	case ConnectionSSH:
		return SSHConnection{SessionID: r.SessionID, Host: r.Host, Port: r.Port, State: r.Status}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnectionType, r.Type)
	}
}
