//go:build extension

package main

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"gm"
)

const extensionName = "Dice Roller"
const extensionAuthor = "Examples"
const extensionAPIVersion = 1

// Init registers the #roll command.
func Init() {
	gm.RegisterCommand("roll", "roll dice, e.g. roll 2d6", roll)
}

func roll(args string) {
	args = strings.ToLower(strings.TrimSpace(args))
	parts := strings.Split(args, "d")
	if len(parts) != 2 {
		gm.Echo("usage: roll NdM, e.g. roll 2d6")
		return
	}
	n := 1
	if parts[0] != "" {
		n, _ = strconv.Atoi(parts[0])
	}
	sides, _ := strconv.Atoi(parts[1])
	if n <= 0 || n > 100 || sides <= 0 {
		gm.Echo("invalid dice")
		return
	}
	rolls := make([]string, n)
	total := 0
	for i := 0; i < n; i++ {
		r := rand.Intn(sides) + 1
		rolls[i] = strconv.Itoa(r)
		total += r
	}
	gm.Echo(fmt.Sprintf("%s: %s (total %d)", args, strings.Join(rolls, " "), total))
}
