package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	ftp "github.com/gonzalop/ftpclient"
	"github.com/gonzalop/ftpclient/ftpfs"
)

// session is what a command runs against.
type session struct {
	fs     *ftpfs.FS
	client *ftp.Client
	out    io.Writer
	bars   *progressSink
}

type command func(ctx context.Context, s *session, args []string) error

var commands = map[string]command{
	"ls":     cmdList,
	"mlsd":   cmdMLSD,
	"stat":   cmdStat,
	"get":    cmdGet,
	"put":    cmdPut,
	"append": cmdAppend,
	"rm":     cmdRemove,
	"mkdir":  cmdMkdir,
	"rmdir":  cmdRmdir,
	"mv":     cmdMove,
	"feat":   cmdFeat,
	"quote":  cmdQuote,
}

var errUsage = errors.New("wrong number of arguments")

func operands(args []string, minArgs, maxArgs int) error {
	if len(args) < minArgs || len(args) > maxArgs {
		return errUsage
	}
	return nil
}

func cmdList(ctx context.Context, s *session, args []string) error {
	if err := operands(args, 0, 1); err != nil {
		return err
	}
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	}
	infos, err := s.fs.Readdir(ctx, dir)
	if err != nil {
		return err
	}
	return renderListing(s.out, infos)
}

func cmdMLSD(ctx context.Context, s *session, args []string) error {
	if err := operands(args, 0, 1); err != nil {
		return err
	}
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	}
	call, err := s.client.MLList(dir)
	if err != nil {
		return err
	}
	entries, err := call.Wait(ctx)
	if err != nil {
		return err
	}
	return renderMLSD(s.out, entries)
}

func cmdStat(ctx context.Context, s *session, args []string) error {
	if err := operands(args, 1, 1); err != nil {
		return err
	}
	info, err := s.fs.Stat(ctx, args[0])
	if err != nil {
		return err
	}
	return renderStat(s.out, info)
}

func cmdGet(ctx context.Context, s *session, args []string) error {
	if err := operands(args, 1, 2); err != nil {
		return err
	}
	remote := args[0]
	local := path.Base(remote)
	if len(args) == 2 {
		local = args[1]
	}

	total := int64(-1)
	if s.client.HasFeature("SIZE") {
		if call, err := s.client.Size(remote); err == nil {
			if n, err := call.Wait(ctx); err == nil {
				total = n
			}
		}
	}

	f, err := os.Create(local)
	if err != nil {
		return err
	}
	s.bars.start(total, "get "+path.Base(remote))
	_, err = s.fs.Get(ctx, remote, f)
	s.bars.finish()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(local)
		return err
	}
	fmt.Fprintln(s.out, color.GreenString("downloaded %s to %s", remote, local))
	return nil
}

func cmdPut(ctx context.Context, s *session, args []string) error {
	if err := operands(args, 1, 2); err != nil {
		return err
	}
	local := args[0]
	remote := filepath.Base(local)
	if len(args) == 2 {
		remote = args[1]
	}
	return upload(ctx, s, "put", local, remote, s.fs.Put)
}

func cmdAppend(ctx context.Context, s *session, args []string) error {
	if err := operands(args, 2, 2); err != nil {
		return err
	}
	return upload(ctx, s, "append", args[0], args[1], s.fs.Append)
}

func upload(ctx context.Context, s *session, verb, local, remote string,
	send func(context.Context, string, io.Reader) (int64, error)) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	total := int64(-1)
	if st, err := f.Stat(); err == nil {
		total = st.Size()
	}

	s.bars.start(total, verb+" "+filepath.Base(local))
	_, err = send(ctx, remote, f)
	s.bars.finish()
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, color.GreenString("uploaded %s to %s", local, remote))
	return nil
}

func cmdRemove(ctx context.Context, s *session, args []string) error {
	flags := pflag.NewFlagSet("rm", pflag.ContinueOnError)
	recursive := flags.BoolP("recursive", "r", false, "remove directories and their contents")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := operands(flags.Args(), 1, 1); err != nil {
		return err
	}
	target := flags.Arg(0)
	if *recursive {
		return s.fs.RemoveAll(ctx, target)
	}
	return s.fs.Delete(ctx, target)
}

func cmdMkdir(ctx context.Context, s *session, args []string) error {
	flags := pflag.NewFlagSet("mkdir", pflag.ContinueOnError)
	parents := flags.BoolP("parents", "p", false, "create parent directories as needed")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := operands(flags.Args(), 1, 1); err != nil {
		return err
	}
	if *parents {
		return s.fs.MkdirAll(ctx, flags.Arg(0))
	}
	return s.fs.Mkdir(ctx, flags.Arg(0))
}

func cmdRmdir(ctx context.Context, s *session, args []string) error {
	if err := operands(args, 1, 1); err != nil {
		return err
	}
	return s.fs.Rmdir(ctx, args[0])
}

func cmdMove(ctx context.Context, s *session, args []string) error {
	if err := operands(args, 2, 2); err != nil {
		return err
	}
	return s.fs.Rename(ctx, args[0], args[1])
}

func cmdFeat(_ context.Context, s *session, args []string) error {
	if err := operands(args, 0, 0); err != nil {
		return err
	}
	return renderFeatures(s.out, s.client.Features())
}

func cmdQuote(ctx context.Context, s *session, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	call, err := s.client.Send(args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	resp, err := call.Wait(ctx)
	if resp != nil {
		fmt.Fprintln(s.out, resp.String())
	}
	return err
}
