package clientbot

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/ircrelay/relayd/internal/ircerr"
)

// saslMechanism resolves the configured mechanism to one this driver can
// run, or "" when SASL should be skipped. PLAIN is the default when
// credentials are present.
func (d *Driver) saslMechanism() string {
	mech := strings.ToUpper(d.Cfg.SASLMechanism)
	switch mech {
	case "", "PLAIN":
		if d.Cfg.SASLUsername == "" || d.Cfg.SASLPassword == "" {
			return ""
		}
		return "PLAIN"
	case "EXTERNAL":
		// Identity comes from the client certificate presented during the
		// TLS handshake; no credentials needed here.
		return "EXTERNAL"
	case "SCRAM-SHA-256":
		if d.Cfg.SASLUsername == "" || d.Cfg.SASLPassword == "" {
			return ""
		}
		return "SCRAM-SHA-256"
	default:
		return ""
	}
}

// scramClient runs the client side of SCRAM-SHA-256 (RFC 5802/7677) over
// SASL AUTHENTICATE fragments.
type scramClient struct {
	user, pass      string
	nonce           string
	clientFirstBare string
	saltedPassword  []byte
	authMessage     string
	sentFinal       bool
}

func newScramClient(user, pass string) (*scramClient, error) {
	raw := make([]byte, 18)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return &scramClient{
		user:  user,
		pass:  pass,
		nonce: base64.RawStdEncoding.EncodeToString(raw),
	}, nil
}

// saslEscape applies the SASLprep-lite escaping RFC 5802 requires for the
// username in the client-first message.
func saslEscape(s string) string {
	s = strings.ReplaceAll(s, "=", "=3D")
	return strings.ReplaceAll(s, ",", "=2C")
}

func (s *scramClient) clientFirst() string {
	s.clientFirstBare = "n=" + saslEscape(s.user) + ",r=" + s.nonce
	return "n,," + s.clientFirstBare
}

func scramHMAC(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

// clientFinal consumes the server-first message and produces the
// client-final message carrying the proof.
func (s *scramClient) clientFinal(serverFirst string) (string, error) {
	var serverNonce string
	var salt []byte
	iters := 0
	for _, field := range strings.Split(serverFirst, ",") {
		if len(field) < 2 || field[1] != '=' {
			continue
		}
		val := field[2:]
		switch field[0] {
		case 'r':
			serverNonce = val
		case 's':
			decoded, err := base64.StdEncoding.DecodeString(val)
			if err != nil {
				return "", ircerr.New(ircerr.KindProtocol, "", "scram: undecodable salt")
			}
			salt = decoded
		case 'i':
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return "", ircerr.New(ircerr.KindProtocol, "", "scram: bad iteration count")
			}
			iters = n
		}
	}
	if !strings.HasPrefix(serverNonce, s.nonce) || len(salt) == 0 || iters == 0 {
		return "", ircerr.New(ircerr.KindProtocol, "", "scram: malformed server-first message")
	}

	s.saltedPassword = pbkdf2.Key([]byte(s.pass), salt, iters, sha256.Size, sha256.New)
	withoutProof := "c=biws,r=" + serverNonce // biws = base64("n,,")
	s.authMessage = s.clientFirstBare + "," + serverFirst + "," + withoutProof

	clientKey := scramHMAC(s.saltedPassword, "Client Key")
	storedKey := sha256.Sum256(clientKey)
	clientSig := scramHMAC(storedKey[:], s.authMessage)
	proof := make([]byte, len(clientKey))
	for i := range clientKey {
		proof[i] = clientKey[i] ^ clientSig[i]
	}
	s.sentFinal = true
	return withoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof), nil
}

// verifyServerFinal checks the server signature so a MITM that knows only
// the stored key cannot fake a success.
func (s *scramClient) verifyServerFinal(serverFinal string) error {
	if !strings.HasPrefix(serverFinal, "v=") {
		return ircerr.New(ircerr.KindProtocol, "", "scram: missing server verifier")
	}
	got, err := base64.StdEncoding.DecodeString(serverFinal[2:])
	if err != nil {
		return ircerr.New(ircerr.KindProtocol, "", "scram: undecodable server verifier")
	}
	serverKey := scramHMAC(s.saltedPassword, "Server Key")
	want := scramHMAC(serverKey, s.authMessage)
	if !hmac.Equal(got, want) {
		return ircerr.New(ircerr.KindProtocol, "", "scram: server signature mismatch")
	}
	return nil
}
