package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/athebyme/catalog-feed-service/internal/domain/models"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// sftpConn минимальная поверхность SFTP сессии, используемая стратегией.
// Выделена в интерфейс, чтобы тестировать машину состояний доставки без сервера
type sftpConn interface {
	Remove(path string) error
	Create(path string) (io.WriteCloser, error)
	Close() error
}

// sftpDialer устанавливает SFTP соединение по учетным данным канала
type sftpDialer func(ctx context.Context, channel *models.Channel) (sftpConn, error)

// SFTPStrategy доставка фида на удаленный SFTP сервер (push режим).
// Последовательность: connect -> delete-if-exists -> upload -> disconnect,
// соединение закрывается и при успехе, и при ошибке
type SFTPStrategy struct {
	dial sftpDialer
}

// NewSFTPStrategy создает стратегию доставки по SFTP
func NewSFTPStrategy() *SFTPStrategy {
	return &SFTPStrategy{dial: dialSFTP}
}

// newSFTPStrategyWithDialer для тестов
func newSFTPStrategyWithDialer(dial sftpDialer) *SFTPStrategy {
	return &SFTPStrategy{dial: dial}
}

// Deliver загружает фид на SFTP сервер канала под именем "<token>.xml"
func (s *SFTPStrategy) Deliver(ctx context.Context, channel *models.Channel, data []byte) (*Artifact, error) {
	conn, err := s.dial(ctx, channel)
	if err != nil {
		return nil, &Error{Stage: "connect", Err: err}
	}
	defer conn.Close()

	fileName := fmt.Sprintf("%s.xml", channel.Token)

	// Удаляем предыдущий фид; отсутствие файла не считается ошибкой
	if err := conn.Remove(fileName); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &Error{Stage: "delete", Err: err}
	}

	file, err := conn.Create(fileName)
	if err != nil {
		return nil, &Error{Stage: "upload", Err: err}
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		return nil, &Error{Stage: "upload", Err: err}
	}

	if err := file.Close(); err != nil {
		return nil, &Error{Stage: "upload", Err: err}
	}

	return &Artifact{Location: fileName}, nil
}

// sftpSession объединяет SSH и SFTP соединения, закрываемые вместе
type sftpSession struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (s *sftpSession) Remove(path string) error {
	return s.sftp.Remove(path)
}

func (s *sftpSession) Create(path string) (io.WriteCloser, error) {
	return s.sftp.Create(path)
}

func (s *sftpSession) Close() error {
	sftpErr := s.sftp.Close()
	sshErr := s.ssh.Close()
	if sftpErr != nil {
		return sftpErr
	}
	return sshErr
}

// dialSFTP устанавливает соединение по паролю из настроек канала
func dialSFTP(ctx context.Context, channel *models.Channel) (sftpConn, error) {
	port := channel.SftpPort
	if port == 0 {
		port = 22
	}

	sshConfig := &ssh.ClientConfig{
		User: channel.SftpUser,
		Auth: []ssh.AuthMethod{
			ssh.Password(channel.SftpPassword),
		},
		// Ключи целевых серверов задаются самими каналами и заранее неизвестны
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         15 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", channel.SftpServer, port)
	sshClient, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("sftp session: %w", err)
	}

	return &sftpSession{ssh: sshClient, sftp: sftpClient}, nil
}
