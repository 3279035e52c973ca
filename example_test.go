package msgtask_test

import (
	"context"
	"fmt"
	"time"

	msgtask "github.com/Swind/go-msgtask"
	"github.com/Swind/go-msgtask/core"
)

func ExampleGroup() {
	g := msgtask.NewGroup("example", &msgtask.TaskConfig{Logger: core.NewNoOpLogger()})
	gate := make(chan struct{})

	task, _ := g.StartTask(msgtask.HandlerFunc(func(ctx context.Context, msg *msgtask.Message) error {
		switch msg.Type() {
		case msgtask.MessageTypeInit:
			<-gate
			fmt.Println("init")
		case msgtask.MessageTypeExit:
			fmt.Println("exit")
		default:
			fmt.Println("got", msg.Payload())
		}
		return nil
	}), &msgtask.TaskConfig{Name: "printer"})

	_ = task.Send(msgtask.MessageTypeUser, "first", msgtask.PriorityNormal)
	_ = task.Send(msgtask.MessageTypeUser, "urgent", msgtask.PriorityHighest)

	close(gate)

	_ = g.Shutdown(context.Background())
	// Output:
	// init
	// got urgent
	// got first
	// exit
}

func ExampleTask_SendAndWait() {
	task := msgtask.NewTask(msgtask.HandlerFunc(func(ctx context.Context, msg *msgtask.Message) error {
		if msg.Type() == msgtask.MessageTypeUser {
			fmt.Println("handled", msg.Payload())
		}
		return nil
	}), &msgtask.TaskConfig{Logger: core.NewNoOpLogger()})
	_ = task.Start()
	defer task.Close()

	msg, err := task.SendAndWait(msgtask.MessageTypeUser, 42, msgtask.PriorityNormal, time.Second)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("state:", msg.State())
	// Output:
	// handled 42
	// state: PROCESSED
}

func ExamplePulser() {
	done := make(chan struct{})
	p := msgtask.NewPulser(&msgtask.TaskConfig{Name: "ticker", Logger: core.NewNoOpLogger()})

	_ = p.Start(5*time.Millisecond, 3, func(ctx context.Context, index uint64) {
		fmt.Println("pulse", index)
		if index == 2 {
			close(done)
		}
	})
	<-done
	_ = p.Wait(context.Background())

	fmt.Println("sent:", p.PulsesSent())
	// Output:
	// pulse 0
	// pulse 1
	// pulse 2
	// sent: 3
}
