package core

import "strconv"

// CommandCode is a protocol command exchanged with the decode worker.
type CommandCode uint32

const (
	CommandInvalid           CommandCode = 0
	CommandStartRecordAudio  CommandCode = 1
	CommandStopRecordAudio   CommandCode = 2
	CommandRequestHostUI     CommandCode = 3
	CommandSiri              CommandCode = 5
	CommandMic               CommandCode = 7
	CommandFrame             CommandCode = 12
	CommandBoxMic            CommandCode = 15
	CommandEnableNightMode   CommandCode = 16
	CommandDisableNightMode  CommandCode = 17
	CommandLeft              CommandCode = 100
	CommandRight             CommandCode = 101
	CommandSelectDown        CommandCode = 104
	CommandSelectUp          CommandCode = 105
	CommandBack              CommandCode = 106
	CommandDown              CommandCode = 114
	CommandHome              CommandCode = 200
	CommandPlay              CommandCode = 201
	CommandPause             CommandCode = 202
	CommandPlayOrPause       CommandCode = 203
	CommandNext              CommandCode = 204
	CommandPrev              CommandCode = 205
	CommandRequestVideoFocus CommandCode = 500
	CommandReleaseVideoFocus CommandCode = 501
)

var commandNames = map[CommandCode]string{
	CommandInvalid:           "invalid",
	CommandStartRecordAudio:  "startRecordAudio",
	CommandStopRecordAudio:   "stopRecordAudio",
	CommandRequestHostUI:     "requestHostUI",
	CommandSiri:              "siri",
	CommandMic:               "mic",
	CommandFrame:             "frame",
	CommandBoxMic:            "boxMic",
	CommandEnableNightMode:   "enableNightMode",
	CommandDisableNightMode:  "disableNightMode",
	CommandLeft:              "left",
	CommandRight:             "right",
	CommandSelectDown:        "selectDown",
	CommandSelectUp:          "selectUp",
	CommandBack:              "back",
	CommandDown:              "down",
	CommandHome:              "home",
	CommandPlay:              "play",
	CommandPause:             "pause",
	CommandPlayOrPause:       "playOrPause",
	CommandNext:              "next",
	CommandPrev:              "prev",
	CommandRequestVideoFocus: "requestVideoFocus",
	CommandReleaseVideoFocus: "releaseVideoFocus",
}

func (c CommandCode) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "command(" + strconv.FormatUint(uint64(c), 10) + ")"
}
