package tool

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// EnsureTlsCertificate generates a self-signed key pair unless both files
// are already there. It reports whether new files were written.
func EnsureTlsCertificate(
	organization string,
	serverCommonName string,
	serverKeyFilename, serverCertFilename string,
	hostnames []string) (bool, error) {

	existCert, err := IsFileExists(serverCertFilename)
	if err != nil {
		return false, fmt.Errorf("unable to access %s: %w", serverCertFilename, err)
	}
	existKey, err := IsFileExists(serverKeyFilename)
	if err != nil {
		return false, fmt.Errorf("unable to access %s: %w", serverKeyFilename, err)
	}
	if existCert && existKey {
		return false, nil
	}

	err = GenerateTlsCertificate(organization, serverCommonName, serverKeyFilename, serverCertFilename, hostnames)
	if err != nil {
		return false, err
	}
	return true, nil
}

func GenerateTlsCertificate(
	organization string,
	serverCommonName string,
	serverKeyFilename, serverCertFilename string,
	hostnames []string) error {

	notBefore := time.Now()
	notAfter := notBefore.AddDate(10, 0, 0)

	serverKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("unable to generate key: %w", err)
	}
	err = keyToFile(serverKeyFilename, serverKey)
	if err != nil {
		return err
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}
	serverTemplate := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   serverCommonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	for _, h := range hostnames {
		if ip := net.ParseIP(h); ip != nil {
			serverTemplate.IPAddresses = append(serverTemplate.IPAddresses, ip)
		} else {
			serverTemplate.DNSNames = append(serverTemplate.DNSNames, h)
		}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &serverTemplate, &serverTemplate, &serverKey.PublicKey, serverKey)
	if err != nil {
		return fmt.Errorf("unable to create certificate: %w", err)
	}
	return pemToFile(serverCertFilename, 0644, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
}

func keyToFile(filename string, key *ecdsa.PrivateKey) error {
	b, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}
	return pemToFile(filename, 0600, &pem.Block{Type: "EC PRIVATE KEY", Bytes: b})
}

func pemToFile(filename string, perm os.FileMode, block *pem.Block) error {
	out, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if err = pem.Encode(out, block); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
