package cryptoworker

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/infodancer/httpd/internal/peer"
	"github.com/infodancer/httpd/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVersionByte(t *testing.T) {
	tests := []struct {
		proto string
		want  byte
	}{
		{"http/1.0", wire.AlpnHTTP10},
		{"http/1.1", wire.AlpnHTTP11},
		{"", wire.AlpnUnknown},
		{"h2", wire.AlpnUnknown},
	}

	for _, tt := range tests {
		if got := versionByte(tt.proto); got != tt.want {
			t.Errorf("versionByte(%q) = %d, want %d", tt.proto, got, tt.want)
		}
	}
}

// generateKeyPair produces a self-signed localhost certificate in PEM,
// the key in PKCS#8.
func generateKeyPair(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

// startWorker performs the manager side of the crypto worker handshake.
func startWorker(t *testing.T) (*Worker, *peer.Peer) {
	t.Helper()

	certPEM, keyPEM := generateKeyPair(t)
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	certFile, err := os.Open(certPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer certFile.Close()
	keyFile, err := os.Open(keyPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer keyFile.Close()

	mgr, workerSide, err := peer.Pair()
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	if err := mgr.SendFDs(nil, certFile, keyFile); err != nil {
		t.Fatalf("SendFDs: %v", err)
	}

	w, err := New(workerSide, Options{HandshakeTimeout: 5 * time.Second}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w, mgr
}

func TestWorkerBridgesTLS(t *testing.T) {
	w, mgr := startWorker(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx)
	}()

	// Stand-ins for the accepted TCP socket and the plaintext pair.
	tcpServer, tcpClient, err := peer.StreamPair()
	if err != nil {
		t.Fatalf("StreamPair: %v", err)
	}
	innerCrypto, innerClient, err := peer.StreamPair()
	if err != nil {
		t.Fatalf("StreamPair: %v", err)
	}

	if err := mgr.SendFDs(nil, tcpServer, innerCrypto); err != nil {
		t.Fatalf("SendFDs: %v", err)
	}
	tcpServer.Close()
	innerCrypto.Close()

	rawConn, err := net.FileConn(tcpClient)
	tcpClient.Close()
	if err != nil {
		t.Fatalf("FileConn: %v", err)
	}
	tlsConn := tls.Client(rawConn, &tls.Config{
		InsecureSkipVerify: true,
		ServerName:         "localhost",
		NextProtos:         []string{"http/1.1"},
	})
	defer tlsConn.Close()

	inner, err := net.FileConn(innerClient)
	innerClient.Close()
	if err != nil {
		t.Fatalf("FileConn: %v", err)
	}
	defer inner.Close()

	if err := tlsConn.Handshake(); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	// The first plaintext byte announces the negotiated version.
	_ = inner.SetReadDeadline(time.Now().Add(5 * time.Second))
	version := make([]byte, 1)
	if _, err := io.ReadFull(inner, version); err != nil {
		t.Fatalf("read version byte: %v", err)
	}
	if version[0] != wire.AlpnHTTP11 {
		t.Errorf("version byte = %d, want %d", version[0], wire.AlpnHTTP11)
	}

	// Encrypted to plaintext.
	if _, err := tlsConn.Write([]byte("ping")); err != nil {
		t.Fatalf("tls Write: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(inner, buf); err != nil {
		t.Fatalf("inner read: %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("inner read = %q, want ping", buf)
	}

	// Plaintext to encrypted.
	if _, err := inner.Write([]byte("pong")); err != nil {
		t.Fatalf("inner Write: %v", err)
	}
	_ = tlsConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(tlsConn, buf); err != nil {
		t.Fatalf("tls read: %v", err)
	}
	if string(buf) != "pong" {
		t.Errorf("tls read = %q, want pong", buf)
	}

	// Closing the encrypted side drains through to the inner socket.
	tlsConn.Close()
	_ = inner.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := inner.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("inner read after close = %v, want EOF", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
