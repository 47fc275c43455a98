package sock

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/domsolutions/netloop"
)

// scriptedSocket plays a proxy server from canned responses.
type scriptedSocket struct {
	sent      []string
	responses []string

	readCB  func(p []byte)
	errorCB func(err error)
}

func (s *scriptedSocket) Connect(string, int, func(error)) error { return nil }
func (s *scriptedSocket) AttachFD(int, []byte) error             { return nil }
func (s *scriptedSocket) SetReadCallback(cb func(p []byte))      { s.readCB = cb }
func (s *scriptedSocket) SetWriteCallback(func())                {}
func (s *scriptedSocket) SetErrorCallback(cb func(err error))    { s.errorCB = cb }
func (s *scriptedSocket) Pause() error                           { return nil }
func (s *scriptedSocket) Resume() error                          { return nil }
func (s *scriptedSocket) Close() error                           { return nil }

func (s *scriptedSocket) Send(p []byte) (int, error) {
	s.sent = append(s.sent, string(p))

	if len(s.responses) > 0 {
		rsp := s.responses[0]
		s.responses = s.responses[1:]
		if s.readCB != nil {
			s.readCB([]byte(rsp))
		}
	}

	return len(p), nil
}

func TestProxyConnectImmediate(t *testing.T) {
	sock := &scriptedSocket{responses: []string{
		"HTTP/1.1 200 Connection established\r\n\r\n",
	}}

	pc := NewProxyConnector(sock, "origin.example", 443, "", "")

	var result error = netloop.ErrFailed
	require.NoError(t, pc.Start(func(err error) { result = err }))
	require.NoError(t, result)

	require.Len(t, sock.sent, 1)
	require.True(t, strings.HasPrefix(sock.sent[0], "CONNECT origin.example:443 HTTP/1.1\r\n"))
	require.NotContains(t, sock.sent[0], "Proxy-Authorization")
}

func TestProxyConnectBasicAuthRetry(t *testing.T) {
	sock := &scriptedSocket{responses: []string{
		"HTTP/1.1 407 Proxy Authentication Required\r\nProxy-Authenticate: Basic realm=\"proxy\"\r\n\r\n",
		"HTTP/1.1 200 Connection established\r\n\r\n",
	}}

	pc := NewProxyConnector(sock, "origin.example", 443, "user", "pass")

	var result error = netloop.ErrFailed
	require.NoError(t, pc.Start(func(err error) { result = err }))
	require.NoError(t, result)

	require.Len(t, sock.sent, 2)
	// dXNlcjpwYXNz is base64("user:pass")
	require.Contains(t, sock.sent[1], "Proxy-Authorization: Basic dXNlcjpwYXNz\r\n")
}

func TestProxyConnectAuthSchemeUnsupported(t *testing.T) {
	sock := &scriptedSocket{responses: []string{
		"HTTP/1.1 407 Proxy Authentication Required\r\nProxy-Authenticate: Negotiate\r\n\r\n",
	}}

	pc := NewProxyConnector(sock, "origin.example", 443, "user", "pass")

	var result error
	require.NoError(t, pc.Start(func(err error) { result = err }))
	require.ErrorIs(t, result, netloop.KindNotAuthorized)
}

func TestProxyConnectRejected(t *testing.T) {
	sock := &scriptedSocket{responses: []string{
		"HTTP/1.1 403 Forbidden\r\n\r\n",
	}}

	pc := NewProxyConnector(sock, "origin.example", 443, "", "")

	var result error
	require.NoError(t, pc.Start(func(err error) { result = err }))
	require.ErrorIs(t, result, netloop.KindRejected)
}
