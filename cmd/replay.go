package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/lucaswhitaker22/specracer/engine"
	"github.com/lucaswhitaker22/specracer/model"
)

// runReplay prints a recorded race tick by tick. speed 0 dumps frames as
// fast as they read; speed 1 paces output on the recorded race clock.
func runReplay(path string, speed float64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open recording: %w", err)
	}
	defer f.Close()

	player, err := engine.NewPlayer(f)
	if err != nil {
		return fmt.Errorf("cannot parse recording: %w", err)
	}
	if player.Len() == 0 {
		return fmt.Errorf("recording %s holds no frames", path)
	}

	var prevTime float64
	var last *engine.Publication
	for {
		pub, ok := player.Next()
		if !ok {
			break
		}
		if speed > 0 && last != nil {
			dt := pub.State.RaceTimeSec - prevTime
			if dt > 0 {
				time.Sleep(time.Duration(dt / speed * float64(time.Second)))
			}
		}
		fmt.Print(renderFrame(pub))
		prevTime = pub.State.RaceTimeSec
		last = pub
	}

	fmt.Printf("\n%d frames replayed from %s\n", player.Len(), path)
	if last != nil && last.State.Status == model.RaceFinished {
		fmt.Print(renderClassification(last.State))
	}
	return nil
}

func renderFrame(pub *engine.Publication) string {
	var sb strings.Builder
	st := pub.State
	fmt.Fprintf(&sb, "tick %d  t=%.1fs  lap %d/%d  %s\n",
		pub.Tick, st.RaceTimeSec, st.CurrentLap, st.TotalLaps, st.Status)

	for _, p := range standingsOrder(st) {
		fmt.Fprintf(&sb, "  P%d %-12s lap %d  %5.1f km/h  gear %d  fuel %4.1f%%  wear %4.1f%%\n",
			p.Position, p.PlayerID, p.Location.Lap, p.SpeedKmh, p.Gear,
			p.FuelPct, p.Tires.Max())
	}
	for _, ev := range pub.Events {
		fmt.Fprintf(&sb, "  * %s\n", eventLine(ev))
	}
	return sb.String()
}

func renderClassification(st *model.RaceState) string {
	var sb strings.Builder
	sb.WriteString("\nFinal classification:\n")
	for _, p := range standingsOrder(st) {
		fmt.Fprintf(&sb, "  P%d %-12s %d laps  %.1fs\n",
			p.Position, p.PlayerID, p.Location.Lap, p.TotalTimeSec)
	}
	return sb.String()
}

func standingsOrder(st *model.RaceState) []*model.Participant {
	out := make([]*model.Participant, 0, len(st.Participants))
	for _, p := range st.Participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func eventLine(ev model.RaceEvent) string {
	switch ev.Type {
	case model.EventRaceStart:
		return "race started"
	case model.EventRaceFinish:
		return fmt.Sprintf("race finished (%v)", ev.Payload["reason"])
	case model.EventOvertake:
		if len(ev.Players) == 2 {
			return fmt.Sprintf("%s overtook %s", ev.Players[0], ev.Players[1])
		}
	case model.EventLapComplete:
		if len(ev.Players) == 1 {
			return fmt.Sprintf("%s completed lap %d in %vs", ev.Players[0], ev.Lap, ev.Payload["lapTimeSec"])
		}
	case model.EventPitStop:
		if len(ev.Players) == 1 {
			return fmt.Sprintf("%s pitted: %v (%vms)", ev.Players[0], ev.Payload["actions"], ev.Payload["durationMs"])
		}
	}
	return fmt.Sprintf("%s %v %v", ev.Type, ev.Players, ev.Payload)
}
