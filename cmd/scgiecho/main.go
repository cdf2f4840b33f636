// Command scgiecho is a reference scgid worker: it answers every
// request frame with an echo of its headers and body. It is used for
// examples and end-to-end smoke testing of an scgid deployment.
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/linkdata/scgid"
)

func main() {
	sleep := flag.Duration("sleep", 0, "artificial per-request processing delay")
	mute := flag.Bool("mute", false, "exit without responding to the first request")
	flag.Parse()
	log.SetPrefix("scgiecho: ")
	log.SetFlags(0)

	in := bufio.NewReader(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	if err := out.WriteByte(scgid.ReadyByte); err == nil {
		out.Flush()
	}

	dec := scgid.NewDecoder(0)
	buf := make([]byte, 32*1024)
	for {
		frame, err := dec.Next()
		if err != nil {
			log.Fatalf("bad frame: %v", err)
		}
		if frame == nil {
			n, rerr := in.Read(buf)
			if n > 0 {
				dec.Write(buf[:n])
			}
			if rerr != nil {
				// EOF is the drain signal
				return
			}
			continue
		}
		if *mute {
			return
		}
		resp := render(frame, *sleep)
		if _, err = out.Write(resp); err == nil {
			err = out.Flush()
		}
		if err != nil {
			log.Fatalf("write response: %v", err)
		}
	}
}

func render(frame *scgid.Frame, delay time.Duration) []byte {
	if frame.Header.Has(scgid.HeaderPing) {
		return scgid.AppendStatusResponse(nil, 200, "pong")
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	var body bytes.Buffer
	for _, f := range frame.Header {
		fmt.Fprintf(&body, "%s=%s\n", f.Name, f.Value)
	}
	body.WriteByte('\n')
	body.Write(frame.Body)
	payload := fmt.Sprintf(
		"Status: 200 OK\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n%s",
		body.Len(), body.Bytes())
	return scgid.AppendNetstring(nil, []byte(payload))
}
