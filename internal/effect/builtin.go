package effect

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Built-in effect identifiers.
const (
	Nausea    = "nausea"
	Creeper   = "creeper"
	Knockback = "knockback"
	Lightning = "lightning"
	Freeze    = "freeze"
	Fly       = "fly"
	Box       = "box"
)

// Announce renders a gray italic broadcast to every player.
func Announce(text string) string {
	quoted, _ := json.Marshal(text)
	return fmt.Sprintf(`tellraw @a {"text":%s,"color":"gray","italic":true}`, quoted)
}

// Whisper renders a message shown only to account.
func Whisper(account, text string) string {
	quoted, _ := json.Marshal(text)
	return fmt.Sprintf(`tellraw %s {"text":%s,"color":"yellow"}`, account, quoted)
}

// commandEffect is an effect defined by a fixed command template.
type commandEffect struct {
	id       string
	traits   Traits
	commands []string
	message  string
}

func (e *commandEffect) ID() string { return e.id }

func (e *commandEffect) Traits() Traits { return e.traits }

func (e *commandEffect) Apply(t Target) Outcome {
	r := strings.NewReplacer("{account}", t.Account, "{actor}", t.Actor)
	commands := make([]string, 0, len(e.commands)+1)
	for _, c := range e.commands {
		commands = append(commands, r.Replace(c))
	}
	msg := r.Replace(e.message)
	commands = append(commands, Announce(msg))
	return Outcome{Commands: commands, Message: msg}
}

// boxEffect opens a blind box for the target user; it has no commands.
type boxEffect struct{}

func (boxEffect) ID() string { return Box }

func (boxEffect) Traits() Traits {
	return Traits{AlwaysSucceeds: true, SelfAllowed: true, OpensBox: true}
}

func (boxEffect) Apply(Target) Outcome { return Outcome{} }

// Builtins returns the default effect set.
func Builtins() []Effect {
	return []Effect{
		&commandEffect{
			id: Nausea,
			commands: []string{
				"effect give {account} nausea 10 10 false",
				"effect give {account} darkness 5 0 false",
			},
			message: "{account} 喝了 {actor} 的昏睡红茶，站不稳了！",
		},
		&commandEffect{
			id: Creeper,
			commands: []string{
				"execute at {account} run playsound minecraft:entity.creeper.primed player {account} ~ ~ ~ 1 1",
			},
			message: "{actor} 成功吓唬了 {account}",
		},
		&commandEffect{
			id: Knockback,
			commands: []string{
				"effect give {account} levitation 1 4 true",
				"execute at {account} run playsound minecraft:entity.villager.hurt master {account} ~ ~ ~ 1 1",
			},
			message: "{account} 被 {actor} 击飞了！",
		},
		&commandEffect{
			id: Lightning,
			commands: []string{
				"execute at {account} run summon minecraft:lightning_bolt",
				"effect give {account} glowing 30 0 true",
			},
			message: "{account} 被 {actor} 劈了一道闪电！⚡",
		},
		&commandEffect{
			id: Freeze,
			commands: []string{
				"effect give {account} slowness 10 10 true",
				"effect give {account} mining_fatigue 10 2 true",
			},
			message: "{account} 被 {actor} 冰冻住了！❄️",
		},
		&commandEffect{
			id:     Fly,
			traits: Traits{AlwaysSucceeds: true, SingleTarget: true, SelfAllowed: true},
			commands: []string{
				"cmi flightcharge add {account} 500",
			},
			message: "{actor} 为 {account} 充值了 500 点飞行充能！✈️",
		},
		boxEffect{},
	}
}
