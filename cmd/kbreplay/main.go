package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hkondo/kbreplay/internal/daemon"
	"github.com/hkondo/kbreplay/internal/model"
	"github.com/hkondo/kbreplay/internal/setup"
	"github.com/hkondo/kbreplay/internal/skill"
	"github.com/hkondo/kbreplay/internal/uds"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "daemon":
		runDaemon(os.Args[2:])
	case "setup":
		runSetup(os.Args[2:])
	case "play":
		runPlay(os.Args[2:])
	case "stop":
		runStop(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "skill":
		runSkill(os.Args[2:])
	case "shutdown":
		runShutdown(os.Args[2:])
	case "version":
		fmt.Printf("kbreplay %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// resolveBaseDir returns the kbreplay base directory: $KBREPLAY_HOME if set,
// ~/.kbreplay otherwise. The directory must already exist.
func resolveBaseDir() string {
	baseDir := os.Getenv("KBREPLAY_HOME")
	if baseDir == "" {
		dir, err := setup.DefaultBaseDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "resolve home directory: %v\n", err)
			os.Exit(1)
		}
		baseDir = dir
	}
	if info, err := os.Stat(baseDir); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "error: %s not found. Run 'kbreplay setup' first.\n", baseDir)
		os.Exit(1)
	}
	return baseDir
}

func newClient(baseDir string) *uds.Client {
	return uds.NewClient(filepath.Join(baseDir, uds.DefaultSocketName))
}

// sendOrDie sends a command, exiting with a readable message on transport or
// application error, and returns the response data on success.
func sendOrDie(baseDir, command string, params any) json.RawMessage {
	client := newClient(baseDir)
	resp, err := client.SendCommand(command, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}
	if !resp.Success {
		code := ""
		msg := "unknown error"
		if resp.Error != nil {
			code = resp.Error.Code
			msg = resp.Error.Message
		}
		fmt.Fprintf(os.Stderr, "%s failed [%s]: %s\n", command, code, msg)
		if code == uds.ErrCodeBusy {
			os.Exit(2)
		}
		os.Exit(1)
	}
	return resp.Data
}

func printJSON(data json.RawMessage) {
	out, _ := json.MarshalIndent(data, "", "  ")
	fmt.Println(string(out))
}

func runDaemon(_ []string) {
	baseDir := resolveBaseDir()

	cfg, err := model.LoadConfig(filepath.Join(baseDir, "config.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(baseDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}
	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runSetup(args []string) {
	baseDir := ""
	if len(args) > 0 {
		baseDir = args[0]
	} else if env := os.Getenv("KBREPLAY_HOME"); env != "" {
		baseDir = env
	} else {
		dir, err := setup.DefaultBaseDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "resolve home directory: %v\n", err)
			os.Exit(1)
		}
		baseDir = dir
	}

	if err := setup.Run(baseDir); err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	absDir, _ := filepath.Abs(baseDir)
	fmt.Printf("Initialized kbreplay in %s\n", absDir)
}

func runPlay(args []string) {
	var params daemon.PlayParams

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--skill":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--skill requires a value")
				os.Exit(1)
			}
			i++
			params.SkillID = args[i]
		case "--speed":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--speed requires a value")
				os.Exit(1)
			}
			i++
			f, err := strconv.ParseFloat(args[i], 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --speed value: %s\n", args[i])
				os.Exit(1)
			}
			params.Speed = f
		case "--jitter-time":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--jitter-time requires a value")
				os.Exit(1)
			}
			i++
			f, err := strconv.ParseFloat(args[i], 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --jitter-time value: %s\n", args[i])
				os.Exit(1)
			}
			params.JitterTime = f
		case "--jitter-hold":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--jitter-hold requires a value")
				os.Exit(1)
			}
			i++
			f, err := strconv.ParseFloat(args[i], 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --jitter-hold value: %s\n", args[i])
				os.Exit(1)
			}
			params.JitterHold = f
		case "--loops":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--loops requires a value")
				os.Exit(1)
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --loops value: %s\n", args[i])
				os.Exit(1)
			}
			params.LoopCount = n
		case "--ignore":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--ignore requires a value")
				os.Exit(1)
			}
			i++
			for _, name := range strings.Split(args[i], ",") {
				params.IgnoreKeys = append(params.IgnoreKeys, name)
			}
		case "--tolerance":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--tolerance requires a value")
				os.Exit(1)
			}
			i++
			f, err := strconv.ParseFloat(args[i], 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --tolerance value: %s\n", args[i])
				os.Exit(1)
			}
			params.IgnoreTolerance = f
		case "--seed":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--seed requires a value")
				os.Exit(1)
			}
			i++
			n, err := strconv.ParseInt(args[i], 10, 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --seed value: %s\n", args[i])
				os.Exit(1)
			}
			params.Seed = &n
		default:
			if strings.HasPrefix(args[i], "--") {
				fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
				os.Exit(1)
			}
			if params.Recording != "" {
				fmt.Fprintln(os.Stderr, "usage: kbreplay play <recording> [options]")
				os.Exit(1)
			}
			params.Recording = args[i]
		}
	}

	if params.Recording == "" && params.SkillID == "" {
		fmt.Fprintln(os.Stderr, "usage: kbreplay play <recording> [options]\n       kbreplay play --skill <skill_id>")
		os.Exit(1)
	}

	data := sendOrDie(resolveBaseDir(), "play", params)
	printJSON(data)
}

func runStop(args []string) {
	var params daemon.StopParams
	if len(args) > 0 {
		params.ID = args[0]
	}
	data := sendOrDie(resolveBaseDir(), "stop", params)
	printJSON(data)
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: kbreplay status [--json]\n", a)
			os.Exit(1)
		}
	}

	data := sendOrDie(resolveBaseDir(), "status", nil)
	if jsonOutput {
		printJSON(data)
		return
	}

	var status struct {
		Active *daemon.SessionInfo  `json:"active"`
		Recent []daemon.SessionInfo `json:"recent"`
	}
	if err := json.Unmarshal(data, &status); err != nil {
		fmt.Fprintf(os.Stderr, "parse status: %v\n", err)
		os.Exit(1)
	}

	if status.Active != nil {
		s := status.Active
		fmt.Printf("ACTIVE  %s  %s  recording=%s  held=%d  loops=%d\n",
			s.ID, s.Status, s.Recording, s.HeldKeys, s.Loops)
	} else {
		fmt.Println("No playback running.")
	}
	for _, s := range status.Recent {
		line := fmt.Sprintf("        %s  %s  recording=%s", s.ID, s.Status, s.Recording)
		if s.Error != "" {
			line += "  error=" + s.Error
		}
		fmt.Println(line)
	}
}

func runShutdown(_ []string) {
	data := sendOrDie(resolveBaseDir(), "shutdown", nil)
	printJSON(data)
}

func runSkill(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: kbreplay skill <list|create|update|delete|reorder> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "list":
		runSkillList(args[1:])
	case "create":
		runSkillCreate(args[1:])
	case "update":
		runSkillUpdate(args[1:])
	case "delete":
		runSkillDelete(args[1:])
	case "reorder":
		runSkillReorder(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown skill subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: kbreplay skill <list|create|update|delete|reorder> [options]")
		os.Exit(1)
	}
}

func runSkillList(_ []string) {
	data := sendOrDie(resolveBaseDir(), "skill_list", nil)

	var result struct {
		Skills []skill.Skill `json:"skills"`
		Count  int           `json:"count"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		fmt.Fprintf(os.Stderr, "parse skill list: %v\n", err)
		os.Exit(1)
	}
	if result.Count == 0 {
		fmt.Println("No skills defined.")
		return
	}
	for _, sk := range result.Skills {
		fmt.Printf("%d  %s  %s  recording=%s  speed=%.2f  loops=%d\n",
			sk.Position, sk.ID, sk.Name, sk.Recording, sk.Speed, sk.LoopCount)
	}
}

// parseSkillFlags fills a Skill from --flag value pairs shared by create and
// update.
func parseSkillFlags(args []string, sk *skill.Skill) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			i++
			sk.Name = args[i]
		case "--recording":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--recording requires a value")
				os.Exit(1)
			}
			i++
			sk.Recording = args[i]
		case "--speed":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--speed requires a value")
				os.Exit(1)
			}
			i++
			f, err := strconv.ParseFloat(args[i], 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --speed value: %s\n", args[i])
				os.Exit(1)
			}
			sk.Speed = f
		case "--jitter-time":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--jitter-time requires a value")
				os.Exit(1)
			}
			i++
			f, err := strconv.ParseFloat(args[i], 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --jitter-time value: %s\n", args[i])
				os.Exit(1)
			}
			sk.JitterTime = f
		case "--jitter-hold":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--jitter-hold requires a value")
				os.Exit(1)
			}
			i++
			f, err := strconv.ParseFloat(args[i], 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --jitter-hold value: %s\n", args[i])
				os.Exit(1)
			}
			sk.JitterHold = f
		case "--loops":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--loops requires a value")
				os.Exit(1)
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --loops value: %s\n", args[i])
				os.Exit(1)
			}
			sk.LoopCount = n
		case "--ignore":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--ignore requires a value")
				os.Exit(1)
			}
			i++
			for _, name := range strings.Split(args[i], ",") {
				sk.IgnoreKeys = append(sk.IgnoreKeys, name)
			}
		case "--tolerance":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--tolerance requires a value")
				os.Exit(1)
			}
			i++
			f, err := strconv.ParseFloat(args[i], 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --tolerance value: %s\n", args[i])
				os.Exit(1)
			}
			sk.IgnoreTolerance = f
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			os.Exit(1)
		}
	}
}

func runSkillCreate(args []string) {
	var sk skill.Skill
	parseSkillFlags(args, &sk)
	if sk.Name == "" || sk.Recording == "" {
		fmt.Fprintln(os.Stderr, "usage: kbreplay skill create --name <name> --recording <file> [options]")
		os.Exit(1)
	}
	data := sendOrDie(resolveBaseDir(), "skill_create", sk)
	printJSON(data)
}

func runSkillUpdate(args []string) {
	if len(args) < 1 || strings.HasPrefix(args[0], "--") {
		fmt.Fprintln(os.Stderr, "usage: kbreplay skill update <skill_id> [options]")
		os.Exit(1)
	}
	baseDir := resolveBaseDir()

	// Fetch the current definition so update flags patch rather than reset.
	listData := sendOrDie(baseDir, "skill_list", nil)
	var result struct {
		Skills []skill.Skill `json:"skills"`
	}
	if err := json.Unmarshal(listData, &result); err != nil {
		fmt.Fprintf(os.Stderr, "parse skill list: %v\n", err)
		os.Exit(1)
	}
	var sk *skill.Skill
	for i := range result.Skills {
		if result.Skills[i].ID == args[0] {
			sk = &result.Skills[i]
			break
		}
	}
	if sk == nil {
		fmt.Fprintf(os.Stderr, "skill not found: %s\n", args[0])
		os.Exit(1)
	}

	parseSkillFlags(args[1:], sk)
	data := sendOrDie(baseDir, "skill_update", sk)
	printJSON(data)
}

func runSkillDelete(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: kbreplay skill delete <skill_id>")
		os.Exit(1)
	}
	data := sendOrDie(resolveBaseDir(), "skill_delete", map[string]string{"id": args[0]})
	printJSON(data)
}

func runSkillReorder(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: kbreplay skill reorder <skill_id> [skill_id...]")
		os.Exit(1)
	}
	data := sendOrDie(resolveBaseDir(), "skill_reorder", daemon.ReorderParams{IDs: args})
	printJSON(data)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `kbreplay %s — keyboard macro playback daemon

Usage: kbreplay <command> [options]

Setup:
  setup [dir]         Initialize the base directory (default ~/.kbreplay)
  daemon              Run the playback daemon

Playback:
  play <recording> [--speed F] [--jitter-time F] [--jitter-hold F]
                   [--loops N] [--ignore k1,k2] [--tolerance F] [--seed N]
  play --skill <skill_id>
  stop [playback_id]  Cancel the running playback
  status [--json]     Show active and recent playback sessions

Skills:
  skill list
  skill create --name <name> --recording <file> [options]
  skill update <skill_id> [options]
  skill delete <skill_id>
  skill reorder <skill_id> [skill_id...]

Utilities:
  shutdown            Stop the daemon gracefully
  version             Print version
  help                Show this help

Environment:
  KBREPLAY_HOME       Base directory override
`, version)
}
