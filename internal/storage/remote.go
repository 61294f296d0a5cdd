package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// shellUnsafePattern matches characters that would change how the remote
// shell parses an embedded path or glob. Session ids, encoded project dirs
// and the fixed storage roots never contain them.
var shellUnsafePattern = regexp.MustCompile("[;&|<>$`\\\\\"'\\s]")

func validateRemoteArg(arg string) error {
	if strings.TrimSpace(arg) == "" {
		return errors.New("empty remote path")
	}
	if shellUnsafePattern.MatchString(arg) {
		return fmt.Errorf("unsafe remote path: %q", arg)
	}
	return nil
}

// validateRemoteCommand applies a conservative read-only allowlist to
// commands sent over ssh. It blocks redirection and obvious mutation so no
// storage bug can write to a remote host.
func validateRemoteCommand(command string) error {
	cmd := strings.ToLower(strings.TrimSpace(command))
	if cmd == "" {
		return errors.New("missing remote command")
	}
	cmd = strings.Join(strings.Fields(cmd), " ")

	if strings.Contains(cmd, ">") {
		return errors.New("blocked: shell redirection")
	}
	if strings.HasPrefix(cmd, "tee ") || strings.Contains(cmd, " tee ") || strings.Contains(cmd, "|tee") {
		return errors.New("blocked: tee writes output")
	}
	for _, p := range []string{"rm ", "mv ", "cp ", "mkdir ", "touch ", "chmod ", "chown ", "dd ", "truncate "} {
		if strings.HasPrefix(cmd, p) || strings.Contains(cmd, "&& "+p) || strings.Contains(cmd, "; "+p) || strings.Contains(cmd, "| "+p) {
			return errors.New("blocked: filesystem mutation")
		}
	}

	for _, p := range []string{"ls ", "cat ", "find ", "test ", "head ", "wc "} {
		if strings.HasPrefix(cmd, p) {
			return nil
		}
	}
	return errors.New("blocked: remote exec is read-only")
}

// sshArgs builds the ssh argv for a remote descriptor. With UseSSHConfig the
// host is treated as a ~/.ssh/config alias and port/user are left to the
// config; otherwise they are passed explicitly.
func sshArgs(remote *SSHRemoteConfig, command string) []string {
	args := []string{"-o", "BatchMode=yes"}
	target := remote.Host
	if !remote.UseSSHConfig {
		if remote.Port > 0 && remote.Port != 22 {
			args = append(args, "-p", strconv.Itoa(remote.Port))
		}
		if remote.Username != "" {
			target = remote.Username + "@" + remote.Host
		}
	}
	return append(args, target, "--", command)
}

// runRemote executes one read-only command on the remote host and returns
// its stdout.
func runRemote(ctx context.Context, remote *SSHRemoteConfig, command string) ([]byte, error) {
	if remote == nil {
		return nil, errors.New("no remote descriptor")
	}
	if !remote.Enabled {
		return nil, fmt.Errorf("remote %q is disabled", remote.Name)
	}
	if strings.TrimSpace(remote.Host) == "" {
		return nil, errors.New("remote host is empty")
	}
	if err := validateRemoteCommand(command); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, "ssh", sshArgs(remote, command)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("ssh %s: %s", remote.Host, msg)
	}
	return stdout.Bytes(), nil
}

// remoteReadFile fetches one file's contents from the remote host.
func remoteReadFile(ctx context.Context, remote *SSHRemoteConfig, path string) ([]byte, error) {
	if err := validateRemoteArg(path); err != nil {
		return nil, err
	}
	return runRemote(ctx, remote, "cat "+path)
}

// remoteListDir lists the entries of a remote directory. A missing directory
// yields an empty list, mirroring the local first-run behavior.
func remoteListDir(ctx context.Context, remote *SSHRemoteConfig, dir string) ([]string, error) {
	if err := validateRemoteArg(dir); err != nil {
		return nil, err
	}
	out, err := runRemote(ctx, remote, fmt.Sprintf("test -d %s && ls -1 %s || true", dir, dir))
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

// remoteFindFiles walks a remote tree for files matching a glob. A missing
// root yields an empty list.
func remoteFindFiles(ctx context.Context, remote *SSHRemoteConfig, root, namePattern string) ([]string, error) {
	if err := validateRemoteArg(root); err != nil {
		return nil, err
	}
	if strings.ContainsAny(namePattern, "'\"`$\\; |&<>") {
		return nil, fmt.Errorf("unsafe find pattern: %q", namePattern)
	}
	out, err := runRemote(ctx, remote, fmt.Sprintf("find %s -type f -name '%s' || true", root, namePattern))
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

func splitNonEmptyLines(out []byte) []string {
	lines := strings.Split(string(out), "\n")
	res := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			res = append(res, l)
		}
	}
	return res
}

// remoteDeleteRefusal is the uniform result every backend returns for a
// deletion attempted under a remote descriptor.
func remoteDeleteRefusal(agentID string) DeletePairResult {
	return DeletePairResult{
		Success: false,
		Error:   fmt.Sprintf("message pair deletion is not supported for remote %s sessions", agentID),
	}
}
