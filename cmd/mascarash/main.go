package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/161chihuahuas/mascara"
)

func main() {
	address := flag.String("address", "127.0.0.1:7331", "mascarad address")
	network := flag.String("network", "tcp", "network for the transport factory")
	method := flag.String("method", "echo", "method to invoke: echo|stream/tail|stream/upload")
	arg := flag.String("arg", "hello", "positional argument for echo")
	flag.Parse()

	client := mascara.NewClient(nil, mascara.DialOptions{
		Logger: mascara.NewLogger("mascarash"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Connect(ctx, *network, *address); err != nil {
		fmt.Fprintf(os.Stderr, "mascarash: connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	switch *method {
	case "echo":
		runEcho(ctx, client, *arg)
	case "stream/tail":
		runTail(ctx, client)
	case "stream/upload":
		runUpload(ctx, client)
	default:
		fmt.Fprintf(os.Stderr, "mascarash: unknown method %q\n", *method)
		os.Exit(1)
	}
}

func runEcho(ctx context.Context, client *mascara.Client, arg string) {
	values, err := client.Invoke(ctx, "echo", []any{arg})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mascarash: echo: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(values)
}

// runTail invokes stream/tail, which returns a readable pointer bound
// to a local *mascara.Consumer, then reads a few items off it.
func runTail(ctx context.Context, client *mascara.Client) {
	values, err := client.Invoke(ctx, "stream/tail", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mascarash: stream/tail: %v\n", err)
		os.Exit(1)
	}
	if len(values) == 0 {
		fmt.Fprintln(os.Stderr, "mascarash: stream/tail: no stream returned")
		os.Exit(1)
	}
	consumer, ok := values[0].(*mascara.Consumer)
	if !ok {
		fmt.Fprintln(os.Stderr, "mascarash: stream/tail: result was not a stream")
		os.Exit(1)
	}
	for i := 0; i < 3; i++ {
		v, ok, err := consumer.Recv(ctx)
		if !ok {
			fmt.Fprintf(os.Stderr, "mascarash: stream ended: %v\n", err)
			return
		}
		fmt.Println(v)
	}
}

// runUpload invokes stream/upload, which returns a writable pointer
// bound to a local *mascara.Producer, then pushes a few items into it.
func runUpload(ctx context.Context, client *mascara.Client) {
	values, err := client.Invoke(ctx, "stream/upload", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mascarash: stream/upload: %v\n", err)
		os.Exit(1)
	}
	if len(values) == 0 {
		fmt.Fprintln(os.Stderr, "mascarash: stream/upload: no stream returned")
		os.Exit(1)
	}
	producer, ok := values[0].(*mascara.Producer)
	if !ok {
		fmt.Fprintln(os.Stderr, "mascarash: stream/upload: result was not a stream")
		os.Exit(1)
	}
	for i := 0; i < 3; i++ {
		if err := producer.Send(ctx, fmt.Sprintf("chunk-%d", i)); err != nil {
			fmt.Fprintf(os.Stderr, "mascarash: send: %v\n", err)
			return
		}
	}
	producer.End()
}
