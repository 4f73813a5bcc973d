package policy

// DefaultDomains are the entity domains the LLM may target.
var DefaultDomains = []string{
	"light",
	"switch",
	"fan",
	"cover",
	"climate",
	"media_player",
	"lock",
	"vacuum",
	"button",
	"input_boolean",
	"input_number",
}

// DefaultServices are the exact actions allowed within DefaultDomains.
var DefaultServices = []string{
	"light.turn_on",
	"light.turn_off",
	"light.toggle",

	"switch.turn_on",
	"switch.turn_off",
	"switch.toggle",

	"fan.turn_on",
	"fan.turn_off",
	"fan.toggle",
	"fan.increase_speed",
	"fan.decrease_speed",
	"fan.set_preset_mode",

	"cover.open_cover",
	"cover.close_cover",
	"cover.stop_cover",
	"cover.set_cover_position",
	"cover.set_cover_tilt_position",

	"climate.turn_on",
	"climate.turn_off",
	"climate.set_temperature",
	"climate.set_hvac_mode",
	"climate.set_fan_mode",
	"climate.set_preset_mode",
	"climate.set_humidity",

	"media_player.turn_on",
	"media_player.turn_off",
	"media_player.media_play",
	"media_player.media_pause",
	"media_player.media_stop",
	"media_player.volume_set",
	"media_player.play_media",

	"lock.lock",
	"lock.unlock",

	"vacuum.start",
	"vacuum.stop",
	"vacuum.pause",
	"vacuum.return_to_base",

	"button.press",

	"input_boolean.turn_on",
	"input_boolean.turn_off",
	"input_boolean.toggle",

	"input_number.set_value",
}

// DefaultArguments are the extra service-data keys forwarded with a call.
// Anything else supplied by the caller is dropped.
var DefaultArguments = []string{
	"brightness",
	"brightness_pct",
	"rgb_color",
	"temperature",
	"hvac_mode",
	"target_temp_high",
	"target_temp_low",
	"fan_mode",
	"preset_mode",
	"humidity",
	"position",
	"tilt_position",
	"volume_level",
	"media_content_id",
	"media_content_type",
	"value",
}

// Default returns the compiled-in policy.
func Default() *Policy {
	return New(DefaultDomains, DefaultServices, DefaultArguments)
}
