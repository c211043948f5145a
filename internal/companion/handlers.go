package companion

import (
	"fmt"
	"strings"

	"github.com/jkaninda/okapi"

	"github.com/ryanmoran/gitbox/internal"
)

// errMissingContent rejects documents created without content.
var errMissingContent = fmt.Errorf("%w: missing content", internal.ErrInvalidRequest)

func (s *Server) handleHello(c *okapi.Context) error {
	return s.respond(c, HelloResult{Message: "hello from gitbox"})
}

func (s *Server) handleHealth(c *okapi.Context) error {
	return c.OK(HealthResult{Status: "ok"})
}

func (s *Server) handleFiles(c *okapi.Context) error {
	files, err := s.repository.List()
	if err != nil {
		return s.fail(c, "list files", err)
	}
	return s.respond(c, FilesResult{Files: files})
}

func (s *Server) handleCommits(c *okapi.Context) error {
	request, err := s.bind(c, true, false)
	if err != nil {
		return s.fail(c, "get commits", err)
	}

	commits, err := s.repository.History(c.Context(), request.FileName)
	if err != nil {
		return s.fail(c, "get commits", err)
	}
	return s.respond(c, CommitsResult{Commits: commits})
}

func (s *Server) handleFileContent(c *okapi.Context) error {
	request, err := s.bind(c, true, false)
	if err != nil {
		return s.fail(c, "get file content", err)
	}

	content, err := s.repository.Read(request.FileName)
	if err != nil {
		return s.fail(c, "get file content", err)
	}
	return s.respond(c, ContentResult{Content: content})
}

func (s *Server) handleFileAtCommit(c *okapi.Context) error {
	request, err := s.bind(c, true, true)
	if err != nil {
		return s.fail(c, "get file at commit", err)
	}

	content, err := s.repository.Show(c.Context(), request.FileName, request.Commit, request.Parent)
	if err != nil {
		return s.fail(c, "get file at commit", err)
	}
	return s.respond(c, ContentResult{Content: content})
}

func (s *Server) handleDiff(c *okapi.Context) error {
	request, err := s.bind(c, true, true)
	if err != nil {
		return s.fail(c, "get diff", err)
	}

	diff, err := s.repository.Diff(c.Context(), request.FileName, request.Commit)
	if err != nil {
		return s.fail(c, "get diff", err)
	}
	return s.respond(c, DiffResult{Diff: diff})
}

func (s *Server) handleRestoreFile(c *okapi.Context) error {
	request, err := s.bind(c, true, true)
	if err != nil {
		return s.fail(c, "restore file", err)
	}

	committed, err := s.repository.Restore(c.Context(), request.FileName, request.Commit)
	if err != nil {
		return s.fail(c, "restore file", err)
	}
	return s.respond(c, WriteResult{OK: true, Committed: committed})
}

func (s *Server) handleCreateFile(c *okapi.Context) error {
	request, err := s.bind(c, false, false)
	if err == nil && strings.TrimSpace(request.Content) == "" {
		err = errMissingContent
	}
	if err != nil {
		return s.fail(c, "create file", err)
	}

	fileName, err := s.repository.Create(c.Context(), request.Content)
	if err != nil {
		return s.fail(c, "create file", err)
	}
	return s.respond(c, CreateResult{FileName: fileName})
}

func (s *Server) handleUpdateFile(c *okapi.Context) error {
	request, err := s.bind(c, true, false)
	if err != nil {
		return s.fail(c, "update file", err)
	}

	committed, err := s.repository.Update(c.Context(), request.FileName, request.Content)
	if err != nil {
		return s.fail(c, "update file", err)
	}
	return s.respond(c, WriteResult{OK: true, Committed: committed})
}

func (s *Server) handleStatus(c *okapi.Context) error {
	status, err := s.repository.Status(c.Context())
	if err != nil {
		return s.fail(c, "get status", err)
	}
	return s.respond(c, StatusResult{Status: status})
}
