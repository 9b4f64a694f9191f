// Command scantest exercises a scan head from the bench: a goto, then a
// short multi-sweep session with live progress, then a CSV dump of the
// result.  Run it with no arguments against a simulated head, or pass
// host:port to drive real hardware.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/voltscan/scan"
	"github.com/nasa-jpl/voltscan/scanner"
)

func readFloat(reader *bufio.Reader, prompt string, dflt float64) float64 {
	fmt.Printf("%s [%g]: ", prompt, dflt)
	str, err := reader.ReadString('\n')
	if err != nil {
		log.Fatal(err)
	}
	str = strings.TrimSpace(str)
	if str == "" {
		return dflt
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil {
		log.Fatal(err)
	}
	return f
}

func readInt(reader *bufio.Reader, prompt string, dflt int) int {
	fmt.Printf("%s [%d]: ", prompt, dflt)
	str, err := reader.ReadString('\n')
	if err != nil {
		log.Fatal(err)
	}
	str = strings.TrimSpace(str)
	if str == "" {
		return dflt
	}
	i, err := strconv.Atoi(str)
	if err != nil {
		log.Fatal(err)
	}
	return i
}

func pass(ok bool) string {
	if ok {
		return color.New(color.Bold, color.FgGreen).Sprint("OK")
	}
	return color.New(color.Bold, color.FgRed).Sprint("FAIL")
}

func main() {
	reader := bufio.NewReader(os.Stdin)

	var dev scanner.VoltageScanner
	if len(os.Args) > 1 {
		addr := os.Args[1]
		log.Println("connecting to scan head at", addr)
		r := scanner.NewRemote(addr)
		if err := r.Open(); err != nil {
			log.Fatal(err)
		}
		defer r.Disconnect()
		dev = r
	} else {
		log.Println("no address given, using a simulated scan head")
		m := scanner.NewMock()
		m.Realtime = true
		dev = m
	}

	ctl, err := scan.NewController(dev)
	if err != nil {
		log.Fatal(err)
	}
	defer ctl.Close()

	bounds := ctl.PositionRange()
	log.Printf("scan axis range: [%g, %g] V", bounds[0], bounds[1])

	vMin := readFloat(reader, "sweep lower bound (V)", bounds[0]/10)
	vMax := readFloat(reader, "sweep upper bound (V)", bounds[1]/10)
	repeats := readInt(reader, "repeats", 3)
	ctl.SetRepeats(repeats)
	// keep the bench run short; a sweep at these settings is ~1s of samples
	ctl.SetClockFrequency(100)
	ctl.SetScanSpeed((vMax - vMin))
	ctl.SetGotoSpeed((vMax - vMin))

	log.Println("press enter to goto the lower bound")
	reader.ReadString('\n')
	if err := ctl.GotoVoltage(vMin); err != nil {
		log.Fatal(err)
	}
	v, err := ctl.CurrentVoltage()
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("output now at %g V", v)

	log.Println("press enter to start the scan")
	reader.ReadString('\n')

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:     100 * time.Millisecond,
		CharSet:       yacspin.CharSets[59],
		Suffix:        " scanning",
		StopCharacter: "✓",
		StopColors:    []string{"fgGreen"},
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := ctl.StartScan(vMin, vMax); err != nil {
		log.Fatal(err)
	}
	spinner.Start()
	for ctl.State() != scan.Idle {
		spinner.Message(fmt.Sprintf("state=%s rows=%d/%d", ctl.State(), ctl.Data().Filled(), repeats))
		time.Sleep(100 * time.Millisecond)
	}
	spinner.Stop()

	scanErr := ctl.Err()
	m := ctl.Data()
	locked := dev.Locked()
	fmt.Println("session complete", pass(scanErr == nil))
	if scanErr != nil {
		fmt.Println("  error:", scanErr)
	}
	fmt.Printf("  rows written: %d/%d %s\n", m.Filled(), repeats, pass(m.Filled() == repeats))
	fmt.Printf("  samples per sweep: %d\n", m.Cols())
	fmt.Println("  device lock released", pass(!locked))

	if m.Filled() == 0 {
		return
	}
	fn := "scantest.csv"
	f, err := os.Create(fn)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := m.EncodeCSV(f); err != nil {
		log.Fatal(err)
	}
	log.Println("wrote", fn)
}
