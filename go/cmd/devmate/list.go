package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/mcdev12/devmate/go/internal/models"
	"github.com/mcdev12/devmate/go/internal/reservation"
)

const reservedAtLayout = "02.01.2006 15:04:05"

func (a *app) list(ctx context.Context) int {
	res := a.client.List(ctx)
	if res.Unreachable() {
		fmt.Fprintln(a.out, inaccessibleMessage)
		return 1
	}
	if res.Rejected() {
		fmt.Fprintf(a.out, "Unexpected status code %d\n", res.StatusCode)
		return 1
	}
	if len(res.Payload) == 0 {
		fmt.Fprintln(a.out, "No devices found.")
		return 0
	}

	now := time.Now()
	if a.clock != nil {
		now = a.clock.Now()
	}
	printDevices(a, res.Payload, now)
	return 0
}

func printDevices(a *app, devices []models.Device, now time.Time) {
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMODEL\tSTATUS\tRESERVED BY\tRESERVED AT\tRESERVED FOR")
	for _, d := range devices {
		var reservedAt, reservedFor string
		if at, ok := d.ReservedAt(); ok && d.IsReserved() {
			reservedAt = at.Local().Format(reservedAtLayout)
			reservedFor = reservation.Humanize(now.Sub(at)) + " by now"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Name, d.Model, d.Status, d.Holder(), reservedAt, reservedFor)
	}
	tw.Flush()
}
