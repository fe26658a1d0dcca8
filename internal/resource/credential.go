package resource

import (
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"

	"gateway/internal/apperrors"
)

// Target describes the login endpoint of one remote compute resource.
type Target struct {
	Host         string
	Port         int
	User         string
	Family       SchedulerFamily
	QueryTimeout time.Duration
}

func (t Target) address() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", t.Host, port)
}

// Credential is a capability that can open a connection to a remote
// resource. The set of variants is closed: callers select the credential
// kind attached to the process rather than type-checking at runtime.
type Credential interface {
	Open(target Target) (Connection, error)
}

// KeyCredential authenticates with a plain SSH private key.
type KeyCredential struct {
	PrivateKeyPEM []byte
}

// Open dials the target and wraps the session in a Connection.
func (c KeyCredential) Open(target Target) (Connection, error) {
	signer, err := ssh.ParsePrivateKey(c.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return dial(target, signer)
}

// CertificateCredential authenticates with an SSH certificate signed by a
// trusted CA, paired with the certified key.
type CertificateCredential struct {
	PrivateKeyPEM  []byte
	CertificatePEM []byte
}

// Open dials the target using a certificate-backed signer.
func (c CertificateCredential) Open(target Target) (Connection, error) {
	signer, err := ssh.ParsePrivateKey(c.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	pub, _, _, _, err := ssh.ParseAuthorizedKey(c.CertificatePEM)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	cert, ok := pub.(*ssh.Certificate)
	if !ok {
		return nil, fmt.Errorf("certificate payload is %T, not an SSH certificate", pub)
	}

	certSigner, err := ssh.NewCertSigner(cert, signer)
	if err != nil {
		return nil, fmt.Errorf("bind certificate to key: %w", err)
	}
	return dial(target, certSigner)
}

func dial(target Target, signer ssh.Signer) (Connection, error) {
	client, err := ssh.Dial("tcp", target.address(), &ssh.ClientConfig{
		User:            target.User,
		Timeout:         10 * time.Second,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
	})
	if err != nil {
		return nil, apperrors.ResourceQuery("resource.dial", err)
	}
	return newSSHConnection(client, target.Host, target.Family, target.QueryTimeout)
}
