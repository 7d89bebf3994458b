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

// GenerateTlsCertificate writes a self-signed P-256 server certificate valid
// ten years for the given hostnames and IP addresses, plus localhost.
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

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("unable to generate serial number: %w", err)
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
		IsCA:                  false,
	}

	for _, h := range append([]string{"localhost", "127.0.0.1"}, hostnames...) {
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

	if err = keyToFile(serverKeyFilename, serverKey); err != nil {
		return err
	}
	return CertToFile(serverCertFilename, derBytes)
}

func keyToFile(filename string, key *ecdsa.PrivateKey) error {
	b, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}
	return pemToFile(filename, &pem.Block{Type: "EC PRIVATE KEY", Bytes: b}, 0600)
}

func CertToFile(filename string, derBytes []byte) error {
	return pemToFile(filename, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}, 0644)
}

func pemToFile(filename string, block *pem.Block, perm os.FileMode) error {
	file, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("unable to create %s: %w", filename, err)
	}
	if err = pem.Encode(file, block); err != nil {
		file.Close()
		return fmt.Errorf("unable to write %s: %w", filename, err)
	}
	return file.Close()
}
